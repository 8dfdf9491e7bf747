package protocol

import (
	"errors"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// Error conditions carried on the wire.
const (
	CondConflict   = "conflict"
	CondForbidden  = "forbidden"
	CondNotFound   = "item-not-found"
	CondBadRequest = "bad-request"
	CondInternal   = "internal-server-error"
)

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Condition string `json:"condition"`
	Text      string `json:"text,omitempty"`
}

// ErrorFor maps an engine error to its wire condition.
func ErrorFor(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	p := &ErrorPayload{Text: err.Error()}
	switch {
	case errors.Is(err, model.ErrConflict):
		p.Condition = CondConflict
	case errors.Is(err, model.ErrForbidden):
		p.Condition = CondForbidden
	case errors.Is(err, model.ErrNotFound):
		p.Condition = CondNotFound
	case errors.Is(err, model.ErrBadRequest):
		p.Condition = CondBadRequest
	default:
		p.Condition = CondInternal
		// internal details stay in the server log
		p.Text = ""
	}
	return p
}

// ErrInternal is returned by Err for an internal-server-error reply.
var ErrInternal = errors.New("internal server error")

// Err maps a reply back to the engine error it carries; nil for a result.
func Err(e Envelope) error {
	if e.Kind != KindError {
		return nil
	}
	if e.Error == nil {
		return ErrInternal
	}
	switch e.Error.Condition {
	case CondConflict:
		return model.ErrConflict
	case CondForbidden:
		return model.ErrForbidden
	case CondNotFound:
		return model.ErrNotFound
	case CondBadRequest:
		return model.ErrBadRequest
	default:
		return ErrInternal
	}
}
