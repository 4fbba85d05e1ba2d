package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsAreFresh(t *testing.T) {
	a := ErrBadRequest().AddMessages("first")
	b := ErrBadRequest()

	require.Equal(t, []string{"first"}, a.Messages)
	require.Empty(t, b.Messages)
}

func TestErrorAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrConflict().AddMessages("Subscription is already canceled"))

	var rejected *Error
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, http.StatusConflict, rejected.StatusCode)
	require.Contains(t, err.Error(), "Subscription is already canceled")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(w, r, ErrNoBearer())

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.True(t, body.Error)
	require.Equal(t, "Unauthorized", body.Message)
	require.Equal(t, []string{"No valid Bearer token found in header"}, body.Messages)
}

func TestWriteResponse(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteResponseWithStatus(w, r, http.StatusCreated, map[string]string{"slug": "acme"})

	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Error  bool              `json:"error"`
		Result map[string]string `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.False(t, body.Error)
	require.Equal(t, "acme", body.Result["slug"])
}
