package flow

import (
	"errors"
	"fmt"
)

// Error kinds returned by the graph engine. Every error the engine returns
// matches exactly one of these with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrFlowCommitted    = errors.New("flow is committed")
	ErrCannotDeleteHead = errors.New("cannot delete head node")
	ErrInvalidGraphSpec = errors.New("invalid graph spec")
	ErrStorageFailure   = errors.New("storage failure")

	ErrFlowNotFound = fmt.Errorf("flow %w", ErrNotFound)
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)
)

var errorKinds = []error{
	ErrInvalidInput,
	ErrNotFound,
	ErrUnauthorized,
	ErrFlowCommitted,
	ErrCannotDeleteHead,
	ErrInvalidGraphSpec,
	ErrStorageFailure,
}

// GraphError wraps an engine error with the operation and ids it concerns.
type GraphError struct {
	Op     string
	FlowID string
	NodeID string
	Err    error
}

func (e *GraphError) Error() string {
	switch {
	case e.FlowID == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.NodeID == "":
		return fmt.Sprintf("%s flow %s: %v", e.Op, e.FlowID, e.Err)
	default:
		return fmt.Sprintf("%s flow %s node %s: %v", e.Op, e.FlowID, e.NodeID, e.Err)
	}
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func newGraphError(op, flowID, nodeID string, err error) *GraphError {
	return &GraphError{Op: op, FlowID: flowID, NodeID: nodeID, Err: classify(err)}
}

// classify makes sure err carries an error kind. Anything the engine did not
// produce itself came from the store.
func classify(err error) error {
	if hasKind(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

func hasKind(err error) bool {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidGraph(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraphSpec, fmt.Sprintf(format, args...))
}

func nodeNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}
