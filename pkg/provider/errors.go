package provider

import (
	"errors"
	"fmt"
)

// NetworkError covers connection failures and timeouts. Retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx or 429 response. Retryable.
type ServerError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("provider %s: server error %d: %s", e.Op, e.StatusCode, e.Body)
}

// ClientError is a 4xx response other than 429. The request itself is bad.
type ClientError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("provider %s: rejected with %d: %s", e.Op, e.StatusCode, e.Body)
}

// ProtocolError is a 2xx response whose shape cannot be trusted.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("provider %s: protocol error: %s", e.Op, e.Reason)
}

// NotFoundError means the provider has no record of the message id.
type NotFoundError struct {
	ProviderMessageID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider has no message %q", e.ProviderMessageID)
}

// IsRetryable is the single classification consulted before re-queueing work.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

// IsProviderError reports whether err came out of this client at all.
func IsProviderError(err error) bool {
	var (
		netErr *NetworkError
		srvErr *ServerError
		cliErr *ClientError
		proErr *ProtocolError
		nfErr  *NotFoundError
	)
	return errors.As(err, &netErr) || errors.As(err, &srvErr) || errors.As(err, &cliErr) ||
		errors.As(err, &proErr) || errors.As(err, &nfErr)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
