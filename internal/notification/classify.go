package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// FailureClass sorts a delivery failure by what retrying it can achieve.
type FailureClass int

const (
	// ClassNone means the push service accepted the message.
	ClassNone FailureClass = iota
	// ClassTransient failures may succeed on retry: network trouble,
	// timeouts, throttling, push-service errors.
	ClassTransient
	// ClassPermanent means the endpoint is gone (404/410) and never will.
	ClassPermanent
	// ClassUnknown is everything else: unexpected statuses and errors raised
	// before the request reached the network.
	ClassUnknown
)

func (c FailureClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassUnknown:
		return "unknown"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// DeliveryError describes a failed attempt.
type DeliveryError struct {
	Class  FailureClass
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s delivery failure: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: push service answered %d", e.Class, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify sorts the outcome of one send.
func Classify(resp *http.Response, err error) FailureClass {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, io.EOF),
			errors.Is(err, io.ErrUnexpectedEOF),
			errors.Is(err, syscall.ECONNREFUSED),
			errors.Is(err, syscall.ECONNRESET),
			errors.As(err, &netErr):
			return ClassTransient
		}
		return ClassUnknown
	}
	if resp == nil {
		return ClassUnknown
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return ClassNone
	case code == http.StatusNotFound, code == http.StatusGone:
		return ClassPermanent
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return ClassTransient
	}
	return ClassUnknown
}
