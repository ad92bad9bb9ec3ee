package retry

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
)

// DefaultSDKAttempts is the attempt budget of SDKRetryer, initial attempt included.
const DefaultSDKAttempts = 10

// transient holds the SDK's standard checks for connection failures, 5xx
// responses and timeouts.
var transient = awsretry.IsErrorRetryables(awsretry.DefaultRetryables)

// SDKRetryer is an aws.Retryer that retries throttling and transient errors
// with the same jittered exponential backoff as Stubbornly.
type SDKRetryer struct {
	attempts int
	backoff  Backoff
}

var _ aws.Retryer = (*SDKRetryer)(nil)

// NewSDKRetryer returns a retryer allowing attempts tries. Values below one
// use DefaultSDKAttempts.
func NewSDKRetryer(attempts int, opts ...Option) *SDKRetryer {
	if attempts < 1 {
		attempts = DefaultSDKAttempts
	}
	return &SDKRetryer{attempts: attempts, backoff: NewBackoff(opts...)}
}

// MaxAttempts implements aws.Retryer.
func (r *SDKRetryer) MaxAttempts() int {
	return r.attempts
}

// RetryDelay implements aws.Retryer.
func (r *SDKRetryer) RetryDelay(attempt int, _ error) (time.Duration, error) {
	return r.backoff.Delay(attempt), nil
}

// IsErrorRetryable reports whether err is a throttling or slow-down
// response, or one the SDK standard retryer treats as transient, such as a
// reset connection. Context errors are final.
func (r *SDKRetryer) IsErrorRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return transient.IsErrorRetryable(err) == aws.TrueTernary
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException",
		"Throttling",
		"SlowDown",
		"RequestLimitExceeded",
		"TooManyRequestsException",
		"ProvisionedThroughputExceededException",
		"InternalError",
		"ServiceUnavailable":
		return true
	}
	return transient.IsErrorRetryable(err) == aws.TrueTernary
}

// GetRetryToken implements aws.Retryer. Retries are not rate limited.
func (r *SDKRetryer) GetRetryToken(context.Context, error) (func(error) error, error) {
	return func(error) error { return nil }, nil
}

// GetInitialToken implements aws.Retryer.
func (r *SDKRetryer) GetInitialToken() func(error) error {
	return func(error) error { return nil }
}
