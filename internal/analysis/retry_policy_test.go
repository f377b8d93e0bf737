package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExponentialRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicyWith(2, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.True(t, p.ShouldRetry(timeoutErr{}, 0))
	require.True(t, p.ShouldRetry(&net.OpError{Op: "dial", Err: errors.New("connection refused")}, 1))
	require.True(t, p.ShouldRetry(fmt.Errorf("fetch page: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}), 0))
	require.False(t, p.ShouldRetry(timeoutErr{}, 2))
	require.False(t, p.ShouldRetry(errors.New("parse error"), 0))
}

func TestExponentialRetryPolicy_BackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicyWith(3, 100*time.Millisecond, 500*time.Millisecond)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrKindTimeout, Categorize(context.DeadlineExceeded))
	require.Equal(t, ErrKindCanceled, Categorize(context.Canceled))
	require.Equal(t, ErrKindDNS, Categorize(&net.DNSError{Err: "no such host", Name: "nope.invalid"}))
	require.Equal(t, ErrKindTimeout, Categorize(timeoutErr{}))
	require.Equal(t, ErrKindNetwork, Categorize(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	require.Equal(t, ErrKindUpstream, Categorize(errors.New("pagespeed api returned 500")))
}
