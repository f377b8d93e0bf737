package analysis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound signals that the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrJobFinalized signals an attempted transition out of a terminal state.
var ErrJobFinalized = errors.New("job already in a terminal state")

// ErrQueueClosed signals the job queue has shut down; workers stop on it.
var ErrQueueClosed = errors.New("queue closed")

// ValidationError rejects caller input before any job is created.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError for the named request field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// ErrorKind classifies engine failures for diagnostics.
type ErrorKind string

// Engine failure categories.
const (
	ErrKindNetwork  ErrorKind = "network"
	ErrKindDNS      ErrorKind = "dns"
	ErrKindTLS      ErrorKind = "tls"
	ErrKindHTTP     ErrorKind = "http_status"
	ErrKindParse    ErrorKind = "parse"
	ErrKindUpstream ErrorKind = "upstream"
	ErrKindTimeout  ErrorKind = "timeout"
	ErrKindCanceled ErrorKind = "canceled"
	ErrKindInternal ErrorKind = "internal"
)

// Categorize maps an arbitrary engine error to an ErrorKind.
func Categorize(err error) ErrorKind {
	if err == nil {
		return ErrKindInternal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCanceled
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrKindDNS
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrKindTLS
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindTimeout
		}
		return ErrKindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrKindNetwork
	}
	return ErrKindUpstream
}

// NewOutcomeError categorizes err unless it already is an OutcomeError.
func NewOutcomeError(err error) *OutcomeError {
	var oe *OutcomeError
	if errors.As(err, &oe) {
		return oe
	}
	return &OutcomeError{Kind: Categorize(err), Message: err.Error()}
}
