package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Error    bool        `json:"error"`
	Message  string      `json:"message,omitempty"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteError writes the Error as a JSON envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	write(w, e.StatusCode, envelope{
		Error:    true,
		Message:  e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}

// WriteResponse writes v as the result of a successful request
func WriteResponse(w http.ResponseWriter, r *http.Request, v interface{}) {
	WriteResponseWithStatus(w, r, http.StatusOK, v)
}

func WriteResponseWithStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	write(w, status, envelope{
		Error:    false,
		Messages: []string{},
		Result:   v,
	})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
