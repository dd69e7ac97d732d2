package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/go-playground/validator/v10"
)

// ErrorKind is the category reported to callers for a failed run
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindConfig             ErrorKind = "config_error"
	KindCollectionNotFound ErrorKind = "collection_not_found"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindCancelled          ErrorKind = "cancelled"
	KindInternal           ErrorKind = "internal_error"
)

// InvalidRequestError wraps a QueryRequest that failed validation
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string {
	var verrs validator.ValidationErrors
	if errors.As(e.Err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid request: %s failed %q", fe.Field(), fe.Tag())
	}
	return "invalid request: " + e.Err.Error()
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// ToolLoopExceededError is never returned from a run. Its message becomes
// a notice on the best-effort answer.
type ToolLoopExceededError struct {
	Rounds int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded: stopped after %d tool rounds", e.Rounds)
}

// Classify maps a run error onto its kind
func Classify(err error) ErrorKind {
	var (
		invalid *InvalidRequestError
		cfgErr  *config.ConfigError
		backend *llm.BackendUnavailableError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &invalid):
		return KindInvalidRequest
	case errors.As(err, &cfgErr):
		return KindConfig
	case errors.Is(err, retrieval.ErrCollectionNotFound):
		return KindCollectionNotFound
	case errors.As(err, &backend):
		return KindBackendUnavailable
	default:
		return KindInternal
	}
}

// HTTPStatus is the response status used for an error kind
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindConfig:
		return http.StatusUnprocessableEntity
	case KindCollectionNotFound:
		return http.StatusNotFound
	case KindBackendUnavailable:
		return http.StatusBadGateway
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
