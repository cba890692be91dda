package caucus

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mcdev12/caucus/go/internal/motion"
	"github.com/mcdev12/caucus/go/internal/queue"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/mcdev12/caucus/go/internal/timer"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned to actors who are not chairs of the committee.
	ErrForbidden     = queue.ErrForbidden
	ErrCaucusClosed  = errors.New("caucus is closed")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNothingToMove = errors.New("no speaker to move")
)

// errorCode classifies err for both the RPC and the HTTP API.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, ErrForbidden):
		return connect.CodePermissionDenied
	case errors.Is(err, ErrNotFound), errors.Is(err, motion.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, ErrCaucusClosed), errors.Is(err, ErrNothingToMove):
		return connect.CodeFailedPrecondition
	case errors.Is(err, store.ErrTooManyRetries):
		return connect.CodeAborted
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, timer.ErrInvalidDuration),
		errors.Is(err, motion.ErrUnknownType),
		errors.Is(err, motion.ErrNoProposer),
		errors.Is(err, motion.ErrInvalidVote),
		errors.Is(err, store.ErrInvalidPath):
		return connect.CodeInvalidArgument
	}
	return connect.CodeInternal
}

func httpStatus(code connect.Code) int {
	switch code {
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeFailedPrecondition, connect.CodeAborted:
		return http.StatusConflict
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
