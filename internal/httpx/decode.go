package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	// MaxRequestBodySize caps JSON request bodies (64KB is far above any link payload).
	MaxRequestBodySize = 64 << 10
)

// DecodeJSON decodes a single JSON object from the request body into T.
// Unknown fields are rejected so typos in PATCH bodies do not silently no-op.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var zero T

	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	defer func() {
		_ = r.Body.Close()
	}()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var v T
	if err := decoder.Decode(&v); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxErr):
			return zero, fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return zero, fmt.Errorf("invalid value for field %q", typeErr.Field)
		case errors.As(err, &maxBytesErr):
			return zero, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
		case errors.Is(err, io.EOF):
			return zero, errors.New("request body is empty")
		default:
			return zero, fmt.Errorf("failed to decode JSON: %w", err)
		}
	}

	if decoder.More() {
		return zero, errors.New("request body contains multiple JSON objects")
	}

	return v, nil
}
