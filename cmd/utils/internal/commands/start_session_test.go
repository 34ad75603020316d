package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/appetiteclub/apt"
	"github.com/golang-jwt/jwt/v5"
)

func TestQueueClientPost(t *testing.T) {
	secret := []byte("utils-secret")

	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantSession string
	}{
		{name: "created", status: http.StatusCreated, body: `{"data":{"session_id":"Session 2"}}`, wantSession: "Session 2"},
		{name: "conflict", status: http.StatusConflict, body: `{"error":"session already exists"}`, wantErr: true},
		{name: "notJSON", status: http.StatusOK, body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var role, method, path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method, path = r.Method, r.URL.Path
				raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return secret, nil })
				if err == nil && token.Valid {
					role, _ = token.Claims.(jwt.MapClaims)["role"].(string)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := &queueClient{baseURL: srv.URL, secret: secret, http: srv.Client()}
			var resp struct {
				SessionID string `json:"session_id"`
			}
			err := c.post(context.Background(), "/sessions", nil, &resp)

			if (err != nil) != tt.wantErr {
				t.Fatalf("post() error = %v, wantErr %v", err, tt.wantErr)
			}
			if method != http.MethodPost || path != "/sessions" {
				t.Errorf("request = %s %s", method, path)
			}
			if role != staffRole {
				t.Errorf("token role = %q, want %q", role, staffRole)
			}
			if resp.SessionID != tt.wantSession {
				t.Errorf("session = %q, want %q", resp.SessionID, tt.wantSession)
			}
		})
	}
}

func TestStartSessionRequiresSecret(t *testing.T) {
	_, err := StartSession(context.Background(), apt.NewConfig(), apt.NewNoopLogger())
	if err == nil {
		t.Error("StartSession() without secret should fail")
	}
}
