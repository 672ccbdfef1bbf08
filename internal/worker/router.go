package worker

import (
	"context"
	"errors"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
)

// HandlerFunc runs one attempt of a job.
type HandlerFunc func(ctx context.Context, job domain.Job, payload domain.JobPayload) error

// FinalizerFunc runs once when a job will not be attempted again. It must leave no
// message queued without a job that can still send it.
type FinalizerFunc func(ctx context.Context, job domain.Job, payload domain.JobPayload, cause error)

type route struct {
	handle   HandlerFunc
	finalize FinalizerFunc
}

// Router maps each job kind to its handler.
type Router struct {
	routes map[domain.JobKind]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[domain.JobKind]route)}
}

// Handle registers the handler and optional finalizer for kind.
func (r *Router) Handle(kind domain.JobKind, handle HandlerFunc, finalize FinalizerFunc) {
	r.routes[kind] = route{handle: handle, finalize: finalize}
}

func (r *Router) lookup(kind domain.JobKind) (route, bool) {
	rt, ok := r.routes[kind]
	return rt, ok
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retryable decides whether a failed attempt goes back to the queue. Provider errors
// follow the provider's classification; anything else is retried unless marked permanent.
func Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if provider.IsProviderError(err) {
		return provider.IsRetryable(err)
	}
	return true
}
