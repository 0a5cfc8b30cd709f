package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_UserMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message and reason", `{"error":{"message":"Rate limit","errors":[{"reason":"userRateLimitExceeded"}]}}`, "Rate limit (userRateLimitExceeded)"},
		{"message only", `{"error":{"message":"File not found"}}`, "File not found"},
		{"reason only", `{"error":{"errors":[{"reason":"notFound"}]}}`, "notFound"},
		{"empty error", `{"error":{}}`, ""},
		{"not json", `<html>bad gateway</html>`, ""},
		{"empty body", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &APIError{StatusCode: 400, Body: tt.body}
			assert.Equal(t, tt.want, e.UserMessage())
		})
	}
}

func TestAPIError_ErrorIncludesMessage(t *testing.T) {
	e := &APIError{StatusCode: 404, Method: "GET", Path: "/files/x", Body: `{"error":{"message":"gone"}}`, Err: ErrNotFound}
	assert.Equal(t, "drive: GET /files/x: HTTP 404: gone", e.Error())
	assert.ErrorIs(t, e, ErrNotFound)
	assert.True(t, IsNotFound(e))
}

func TestAPIError_Predicates(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Retryable())
	assert.True(t, (&APIError{StatusCode: 503}).Retryable())
	assert.False(t, (&APIError{StatusCode: 409}).Retryable())
	assert.True(t, (&APIError{StatusCode: 401}).AuthRequired())
	assert.True(t, (&APIError{StatusCode: 403}).AuthRequired())
	assert.False(t, (&APIError{StatusCode: 404}).AuthRequired())
}
