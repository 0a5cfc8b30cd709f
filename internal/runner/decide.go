package runner

import (
	"context"
	"errors"
	"time"

	"github.com/anotepad/notesync/internal/drive"
	"github.com/anotepad/notesync/internal/sync"
)

// Decision tells the invoker what to do after a run.
type Decision int

const (
	// Done means the run finished or was legitimately skipped.
	Done Decision = iota
	// Retry means a later attempt may succeed.
	Retry
	// Fail means no retry will help until the user acts.
	Fail
)

func (d Decision) String() string {
	switch d {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one run.
type Outcome struct {
	Decision Decision

	// AuthRequired is set for a Fail caused by a missing or rejected
	// credential; the user has to sign in again.
	AuthRequired bool

	// RetryAfter is the server's requested delay, when it sent one.
	RetryAfter time.Duration

	// Unexpected marks an unclassified error retried conservatively.
	Unexpected bool
}

// Decide classifies the value returned by RunSync.
func Decide(res sync.Result, err error) Outcome {
	if err == nil {
		switch r := res.(type) {
		case sync.Failure:
			return Outcome{Decision: Fail, AuthRequired: r.AuthRequired}
		default:
			return Outcome{Decision: Done}
		}
	}

	if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, context.Canceled) {
		return Outcome{Decision: Done}
	}

	var (
		apiErr *drive.APIError
		netErr *drive.NetworkError
	)

	switch {
	case errors.As(err, &netErr):
		return Outcome{Decision: Retry}
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Retryable():
			return Outcome{Decision: Retry, RetryAfter: apiErr.RetryAfter}
		case apiErr.AuthRequired():
			return Outcome{Decision: Fail, AuthRequired: true}
		default:
			return Outcome{Decision: Fail}
		}
	case errors.Is(err, drive.ErrNotLoggedIn):
		return Outcome{Decision: Fail, AuthRequired: true}
	default:
		return Outcome{Decision: Retry, Unexpected: true}
	}
}
