package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultQueueURL = "http://localhost:8080"
	staffRole       = "staff"
	tokenTTL        = 5 * time.Minute
)

// StartSession asks the queue service to open the session after the active
// one. The request carries a short lived staff token signed with the secret
// the service verifies.
func StartSession(ctx context.Context, config *apt.Config, logger apt.Logger) (string, error) {
	secret, _ := config.GetString("auth.jwt.secret")
	if secret == "" {
		return "", errors.New("auth.jwt.secret is required to call staff endpoints")
	}

	client := &queueClient{
		baseURL: strings.TrimRight(config.GetStringOrDef("queue.url", defaultQueueURL), "/"),
		secret:  []byte(secret),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := client.post(ctx, "/sessions", nil, &resp); err != nil {
		return "", err
	}

	logger.Debug("queue service answered", "url", client.baseURL, "session_id", resp.SessionID)
	return resp.SessionID, nil
}

type queueClient struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

func (c *queueClient) staffToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "kiosk-utils",
		"role": staffRole,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(c.secret)
}

func (c *queueClient) post(ctx context.Context, path string, body, out interface{}) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	token, err := c.staffToken()
	if err != nil {
		return fmt.Errorf("sign staff token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call queue service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &failure)
		if failure.Error == "" {
			failure.Error = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("queue service returned %d: %s", resp.StatusCode, failure.Error)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
