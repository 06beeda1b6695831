// pkg/erp/errors.go
package erp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ClientError is a request the ERP rejected or that never got an answer.
// Status is 0 when the transport failed after retries.
type ClientError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure was transient
func (e *ClientError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// NotFound reports a 404
func (e *ClientError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the ERP
func IsNotFound(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.NotFound()
}

// errorBody covers the shapes Frappe uses for failures
type errorBody struct {
	Exception      string              `json:"exception"`
	ExcType        string              `json:"exc_type"`
	ServerMessages string              `json:"_server_messages"`
	Message        jsoniter.RawMessage `json:"message"`
}

type serverMessage struct {
	Message string `json:"message"`
}

// decodeErrorMessage extracts the most useful message from an error body
func decodeErrorMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Exception != "" {
			return eb.Exception
		}
		if msg := serverMessages(eb.ServerMessages); msg != "" {
			return msg
		}
		var text string
		if len(eb.Message) > 0 && json.Unmarshal(eb.Message, &text) == nil && text != "" {
			return text
		}
		if eb.ExcType != "" {
			return eb.ExcType
		}
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && !strings.HasPrefix(trimmed, "<") {
		return trimmed
	}
	return http.StatusText(status)
}

// serverMessages decodes the doubly encoded _server_messages list
func serverMessages(raw string) string {
	if raw == "" {
		return ""
	}
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return raw
	}

	msgs := make([]string, 0, len(encoded))
	for _, e := range encoded {
		var sm serverMessage
		if err := json.Unmarshal([]byte(e), &sm); err == nil && sm.Message != "" {
			msgs = append(msgs, sm.Message)
		} else if e != "" {
			msgs = append(msgs, e)
		}
	}
	return strings.Join(msgs, "; ")
}
