package httpx

import (
	"net/http"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict, errx.Expired:
		return http.StatusConflict
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Unauthorized:
		return http.StatusUnauthorized
	case errx.Forbidden:
		return http.StatusForbidden
	case errx.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to the machine-readable code of an error body.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Conflict:
		return "conflict"
	case errx.Expired:
		return "edit_window_expired"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unauthorized:
		return "unauthenticated"
	case errx.Forbidden:
		return "forbidden"
	case errx.Unavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

// publicMessage is what a client sees for kinds whose underlying error text may carry
// connection strings, SQL or other internals.
func publicMessage(kind errx.Kind) string {
	switch kind {
	case errx.Unavailable:
		return "a required dependency is unavailable, please retry"
	case errx.Unauthorized:
		return "missing or invalid credentials"
	default:
		return "an unexpected error occurred"
	}
}

// WriteErrx writes err as a structured error body. Only user-correctable kinds echo the
// error text; everything else gets a fixed message.
func WriteErrx(w http.ResponseWriter, err error, message string) {
	kind := errx.KindOf(err)
	if message == "" {
		switch kind {
		case errx.Invalid, errx.NotFound, errx.Forbidden, errx.Expired, errx.Conflict:
			message = rootMessage(err)
		default:
			message = publicMessage(kind)
		}
	}
	WriteError(w, ErrorKindToStatus(kind), ErrorKindToCode(kind), message, nil)
}

// rootMessage strips the op prefixes errx adds so clients see only the cause text.
func rootMessage(err error) string {
	for {
		e, ok := err.(*errx.Error)
		if !ok || e.Err == nil {
			break
		}
		err = e.Err
	}
	return err.Error()
}
