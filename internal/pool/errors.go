package pool

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// configurationError signals invalid Config or a base tokenizer that cannot be loaded.
type configurationError struct {
	msg string
	err error
}

func (e configurationError) Error() string {
	if e.err != nil {
		return "configuration: " + e.msg + ": " + e.err.Error()
	}
	return "configuration: " + e.msg
}

func (e configurationError) Unwrap() error   { return e.err }
func (e configurationError) StatusCode() int { return http.StatusInternalServerError }

// ErrConfiguration constructs a configurationError.
func ErrConfiguration(msg string, err error) error { return configurationError{msg: msg, err: err} }

// IsConfiguration reports whether err indicates an invalid configuration.
func IsConfiguration(err error) bool {
	var e configurationError
	return errors.As(err, &e)
}

// adapterLoadError signals that an adapter tokenizer could not be materialized.
// Every caller waiting on the same load receives the same value.
type adapterLoadError struct {
	adapterID string
	source    string
	err       error
}

func (e *adapterLoadError) Error() string {
	return fmt.Sprintf("load adapter tokenizer %q from %q: %v", e.adapterID, e.source, e.err)
}

func (e *adapterLoadError) Unwrap() error   { return e.err }
func (e *adapterLoadError) StatusCode() int { return http.StatusFailedDependency }

// AdapterID returns the adapter whose load failed.
func (e *adapterLoadError) AdapterID() string { return e.adapterID }

// ErrAdapterLoad constructs an adapterLoadError.
func ErrAdapterLoad(adapterID, source string, err error) error {
	return &adapterLoadError{adapterID: adapterID, source: source, err: err}
}

// IsAdapterLoad reports whether err indicates a failed adapter tokenizer load.
func IsAdapterLoad(err error) bool {
	var e *adapterLoadError
	return errors.As(err, &e)
}

// contextLengthExceededError signals a prompt whose encoding exceeds its bound.
type contextLengthExceededError struct {
	ref    AdapterRef
	tokens int
	limit  int
}

func (e contextLengthExceededError) Error() string {
	return fmt.Sprintf("input for %s is %d tokens, exceeds max input length %d", e.ref, e.tokens, e.limit)
}

func (e contextLengthExceededError) StatusCode() int { return http.StatusRequestEntityTooLarge }

// ErrContextLengthExceeded constructs a contextLengthExceededError.
func ErrContextLengthExceeded(ref AdapterRef, tokens, limit int) error {
	return contextLengthExceededError{ref: ref, tokens: tokens, limit: limit}
}

// IsContextLengthExceeded reports whether err indicates an over-long prompt.
func IsContextLengthExceeded(err error) bool {
	var e contextLengthExceededError
	return errors.As(err, &e)
}

// poolUnhealthyError signals that no worker could take or finish the request.
type poolUnhealthyError struct {
	reason string
	err    error
}

func (e poolUnhealthyError) Error() string {
	if e.err != nil {
		return "tokenizer pool unhealthy: " + e.reason + ": " + e.err.Error()
	}
	return "tokenizer pool unhealthy: " + e.reason
}

func (e poolUnhealthyError) Unwrap() error   { return e.err }
func (e poolUnhealthyError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrPoolUnhealthy constructs a poolUnhealthyError.
func ErrPoolUnhealthy(reason string, err error) error {
	return poolUnhealthyError{reason: reason, err: err}
}

// IsPoolUnhealthy reports whether err indicates a degraded pool.
func IsPoolUnhealthy(err error) bool {
	var e poolUnhealthyError
	return errors.As(err, &e)
}

// probeTimeoutError signals a worker that did not answer a health probe in time.
type probeTimeoutError struct {
	worker  int
	timeout time.Duration
}

func (e probeTimeoutError) Error() string {
	return fmt.Sprintf("worker %d did not answer probe within %s", e.worker, e.timeout)
}

func (e probeTimeoutError) StatusCode() int { return http.StatusGatewayTimeout }

// IsProbeTimeout reports whether err indicates a missed health probe.
func IsProbeTimeout(err error) bool {
	var e probeTimeoutError
	return errors.As(err, &e)
}
