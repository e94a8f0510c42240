package otlp

import (
	"fmt"

	"go.opentelemetry.io/collector/consumer/consumererror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RejectedError reports a partially successful export: the collector accepted
// the request but refused Rejected of its items. It is always wrapped as a
// permanent error, since resending would duplicate the accepted items.
type RejectedError struct {
	Signal   string
	Rejected int64
	Message  string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collector rejected %d %s", e.Rejected, e.Signal)
	}
	return fmt.Sprintf("collector rejected %d %s: %s", e.Rejected, e.Signal, e.Message)
}

// RejectedCount returns the number of rejected items.
func (e *RejectedError) RejectedCount() int {
	return int(e.Rejected)
}

func partialSuccess(signal string, rejected int64, message string) error {
	if rejected <= 0 {
		return nil
	}
	return consumererror.NewPermanent(&RejectedError{Signal: signal, Rejected: rejected, Message: message})
}

// classifyGRPC marks errors the collector will keep refusing as permanent.
// Codes OTLP treats as retryable stay transient.
func classifyGRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled,
		codes.DeadlineExceeded,
		codes.Aborted,
		codes.OutOfRange,
		codes.Unavailable,
		codes.DataLoss,
		codes.ResourceExhausted:
		return err
	default:
		return consumererror.NewPermanent(err)
	}
}
