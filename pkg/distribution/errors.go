package distribution

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/jobs"
)

var (
	// ErrCancelled is the terminal error of a consumer whose job was killed.
	ErrCancelled = errors.New("job killed")

	// ErrConsumerFinished is returned when rows are pushed after Finish.
	ErrConsumerFinished = errors.New("distributing consumer already finished")

	errFinishTimeout = errors.New("timed out waiting for downstream nodes to acknowledge the last pages")
)

// ResolutionError is returned when the nodes of the downstream phase could
// not be resolved.
type ResolutionError struct {
	Phase jobs.PhaseID
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve nodes of phase %d: %v", e.Phase, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransportFailure is a failed attempt to deliver a page to a node.
// Temporary failures are retried; the others are a rejection by the
// downstream node and end the stream immediately.
type TransportFailure struct {
	Node      string
	Temporary bool
	Err       error
}

func (e *TransportFailure) Error() string {
	if e.Temporary {
		return fmt.Sprintf("sending page to node %s failed: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("node %s rejected page: %v", e.Node, e.Err)
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// NewRejection returns the failure a transport reports for a NACK.
func NewRejection(node string, err error) error {
	return &TransportFailure{Node: node, Err: err}
}

// NewTemporaryFailure returns the failure a transport reports for a failed
// attempt that may succeed when retried.
func NewTemporaryFailure(node string, err error) error {
	return &TransportFailure{Node: node, Temporary: true, Err: err}
}

// IsRetryable reports whether a send error is worth another attempt.
// Timeouts and temporary transport failures are; rejections and
// cancellations are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var tf *TransportFailure
	if errors.As(err, &tf) {
		return tf.Temporary
	}
	return errors.Is(err, context.DeadlineExceeded)
}
