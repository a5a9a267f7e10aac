package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := NewWithDetails(http.StatusConflict, "CONFLICT", "already exists", "user")
	assert.Equal(t, "already exists", err.Error())

	wrapped := fmt.Errorf("create: %w", err)
	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "user", apiErr.Details)
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantStatus int
		wantCode   string
	}{
		{"invalid request", InvalidRequestWithError(errors.New("bad json")), http.StatusBadRequest, "INVALID_REQUEST"},
		{"validation", ErrValidation("name", "required"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"not found", NotFoundError("order"), http.StatusNotFound, "NOT_FOUND"},
		{"many fields", NewValidationErrors([]ValidationError{{Field: "a"}, {Field: "b"}}), http.StatusBadRequest, "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.wantCode, tt.err.ErrorCode)
		})
	}

	assert.Equal(t, "order not found", NotFoundError("order").Message)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrRateLimitExceeded)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.ErrorCode)
}

func TestProblemDetailsMarshal(t *testing.T) {
	problem := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad", "", "/x").
		WithExtension("field", "limit")

	b, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, TypeValidation, body["type"])
	assert.Equal(t, "/x", body["instance"])
	assert.Equal(t, "limit", body["field"])
	assert.NotContains(t, body, "detail")
}

func TestProblemDetailsExtensionsCannotOverrideStandardFields(t *testing.T) {
	problem := NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "", "").
		WithExtension("status", 200)

	b, err := json.Marshal(problem)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":404`)
}

func TestWithExtensionOnZeroValue(t *testing.T) {
	var problem ProblemDetails
	problem.WithExtension("k", "v")
	assert.Equal(t, "v", problem.Extensions["k"])
}
