package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestSDKRetryer_IsErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "throttling", err: &smithy.GenericAPIError{Code: "ThrottlingException"}, want: true},
		{name: "wrapped slow down", err: fmt.Errorf("copy: %w", &smithy.GenericAPIError{Code: "SlowDown"}), want: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException"}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "connection reset", err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, want: true},
		{name: "wrapped dial failure", err: fmt.Errorf("head: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")}), want: true},
		{name: "request timeout code", err: &smithy.GenericAPIError{Code: "RequestTimeout"}, want: true},
	}

	r := NewSDKRetryer(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsErrorRetryable(tt.err))
		})
	}
}

func TestSDKRetryer_Budget(t *testing.T) {
	assert.Equal(t, DefaultSDKAttempts, NewSDKRetryer(0).MaxAttempts())
	assert.Equal(t, 3, NewSDKRetryer(3).MaxAttempts())

	r := NewSDKRetryer(3, WithBackoff(time.Second, 2*time.Second))
	d, err := r.RetryDelay(5, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, _ = NewSDKRetryer(3, NoBackoff()).RetryDelay(2, nil)
	assert.Zero(t, d)
}
