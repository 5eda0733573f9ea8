package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// CurrentVersion is the API version reported by the version endpoint.
const CurrentVersion = "v0.1.0"

// APIError is the structured error carried through the HTTP layer and
// rendered as an OpenAI-style error envelope.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
}

func (e *APIError) Error() string {
	return e.message
}

func (e *APIError) Unwrap() error {
	return e.err
}

// AboutServer describes the running instance for the version endpoint.
type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
	Tenancy        string `json:"tenancy"`
}

// GetVersion returns the server's API version string.
func GetVersion() string {
	return CurrentVersion
}

// Encode writes v as JSON with the given status code.
func Encode[T any](w http.ResponseWriter, _ *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode reads the request body into a value of type T.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, ErrEmptyRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: decode json: %v", ErrUnprocessableEntity, err)
	}
	return v, nil
}

// GetPathParam reads a named path value from the route pattern. The doc
// argument feeds the OpenAPI generator and is unused at runtime.
func GetPathParam(r *http.Request, name string, doc string) string {
	_ = doc
	return r.PathValue(name)
}

// GetQueryParam reads a query parameter, falling back to defaultValue when
// absent. The doc argument feeds the OpenAPI generator.
func GetQueryParam(r *http.Request, name, defaultValue string, doc string) string {
	_ = doc
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return defaultValue
}

// Error maps err onto an HTTP status for the given operation and writes the
// error envelope. It returns the error it was given so call sites can keep
// the `_ = apiframework.Error(...)` single-line form.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	var apiErr *APIError
	message := err.Error()
	param := ""
	errorType, errorCode := getErrorMapping(err)
	if errors.As(err, &apiErr) {
		message = apiErr.message
		param = apiErr.param
		if apiErr.errorType != "" {
			errorType = apiErr.errorType
			errorCode = apiErr.errorCode
		}
	}
	if errorType == "" {
		errorType, errorCode = getErrorTypeAndCode(status)
	}

	var paramField *string
	if param != "" {
		paramField = &param
	}
	body := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType,
			"param":   paramField,
			"code":    errorCode,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
	return err
}
