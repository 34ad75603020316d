package queue

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaffAuthMiddleware(t *testing.T) {
	auth := NewStaffAuth(testSecret, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": StaffRole,
		"exp":  time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, _ := expired.SignedString([]byte(testSecret))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": StaffRole})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name           string
		authorization  string
		expectedStatus int
		expectedStaff  string
	}{
		{name: "missingHeader", expectedStatus: http.StatusUnauthorized},
		{name: "malformed", authorization: "Bearer not-a-jwt", expectedStatus: http.StatusUnauthorized},
		{name: "expired", authorization: "Bearer " + expiredToken, expectedStatus: http.StatusUnauthorized},
		{name: "unsigned", authorization: "Bearer " + noneToken, expectedStatus: http.StatusUnauthorized},
		{name: "customerRole", authorization: "Bearer " + staffToken(t, testSecret, "customer"), expectedStatus: http.StatusForbidden},
		{name: "staff", authorization: "Bearer " + staffToken(t, testSecret, StaffRole), expectedStatus: http.StatusOK, expectedStaff: "staff-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var staff string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				staff = StaffFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			w := httptest.NewRecorder()
			auth.Middleware(next).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tt.expectedStatus, w.Body.String())
			}
			if staff != tt.expectedStaff {
				t.Errorf("StaffFrom() = %q, want %q", staff, tt.expectedStaff)
			}
		})
	}
}

func TestStaffAuthEnabled(t *testing.T) {
	var nilAuth *StaffAuth
	if nilAuth.Enabled() {
		t.Error("nil auth should be disabled")
	}
	if NewStaffAuth("", nil).Enabled() {
		t.Error("auth without secret should be disabled")
	}
	if !NewStaffAuth("s", nil).Enabled() {
		t.Error("auth with secret should be enabled")
	}
}
