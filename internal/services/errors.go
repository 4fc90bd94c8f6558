package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-success HTTP response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string // Best-effort human message extracted from the body
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = truncateString(e.Body, 300)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, msg)
}

// Unauthorized reports whether the provider rejected the API key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// newAPIError reads the response body and pulls a message out of the common
// {"message": ...} / {"error": ...} / {"detail": ...} shapes.
func newAPIError(provider string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			switch v := payload[key].(type) {
			case string:
				apiErr.Message = v
			case map[string]interface{}:
				if m, ok := v["message"].(string); ok {
					apiErr.Message = m
				}
			}
			if apiErr.Message != "" {
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(truncateString(apiErr.Body, 300))
	}

	return apiErr
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
