package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/golang-jwt/jwt/v5"
)

const StaffRole = "staff"

type staffKey struct{}

// StaffAuth gates staff routes behind an HS256 bearer token carrying
// role=staff. Issuing tokens is left to the identity provider.
type StaffAuth struct {
	secret []byte
	logger apt.Logger
}

func NewStaffAuth(secret string, logger apt.Logger) *StaffAuth {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &StaffAuth{secret: []byte(secret), logger: logger}
}

func (a *StaffAuth) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Middleware rejects requests without a valid staff token. With no secret
// configured every staff request is refused.
func (a *StaffAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			apt.RespondError(w, http.StatusUnauthorized, "staff access is not configured")
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apt.RespondError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}

		subject, err := a.verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			a.logger.Debug("staff token rejected", "error", err)
			if errors.Is(err, errForbidden) {
				apt.RespondError(w, http.StatusForbidden, "forbidden")
				return
			}
			apt.RespondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), staffKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errForbidden = errors.New("role is not allowed")

func (a *StaffAuth) verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	role, _ := claims["role"].(string)
	if role != StaffRole {
		return "", errForbidden
	}

	subject, _ := claims.GetSubject()
	return subject, nil
}

// StaffFrom returns the subject of the staff token that authorized the
// request.
func StaffFrom(ctx context.Context) string {
	subject, _ := ctx.Value(staffKey{}).(string)
	return subject
}
