package notification

import (
	"encoding/json"
	"time"
)

// Payload is what a browser's service worker receives. The fields are
// forwarded verbatim.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Task is one delivery of one payload to one subscription. Attempt counts
// the delivery attempts already made.
type Task struct {
	ID             string
	SubscriptionID int64
	Payload        json.RawMessage
	Attempt        int
	MaxAttempts    int
	// Version is the row version seen at claim time. Updates from a worker
	// holding an older version are refused.
	Version int64
}

// RetryPolicy decides how often and how far apart failed deliveries are
// retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first included.
	MaxAttempts int
	// BaseDelay is the fixed wait between attempts.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single send.
	AttemptTimeout time.Duration
	// RetryUnknown controls failures that are neither known-transient nor
	// known-permanent. When false they end the task immediately.
	RetryUnknown bool
}

// DefaultRetryPolicy is three attempts, five seconds apart, ten seconds each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Second,
		AttemptTimeout: 10 * time.Second,
		RetryUnknown:   true,
	}
}

// Delay is the wait before the attempt following attempt number attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	return p.BaseDelay
}

// Exhausted reports whether attempts has used up the budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
