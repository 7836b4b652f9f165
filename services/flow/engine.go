package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"justflow/api/pkg/telemetry"
)

const tracerName = "justflow/api/services/flow"

// Engine builds, mutates and reads flow graphs while keeping them
// consistent: membership matches the stored nodes, every node is reachable
// from the head and end-node flags follow next edges.
type Engine struct {
	store    Store
	locker   Locker
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates an Engine on top of store. Mutations of one flow are
// serialised through locker.
func NewEngine(store Store, locker Locker, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		locker:   locker,
		validate: newValidator(),
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) startSpan(ctx context.Context, op, callerID, flowID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{telemetry.CallerIDKey.String(callerID)}
	if flowID != "" {
		attrs = append(attrs, telemetry.FlowIDKey.String(flowID))
	}
	return e.tracer.Start(ctx, "flow."+op, trace.WithAttributes(attrs...))
}

// fail wraps err for op, records it on span and returns it.
func (e *Engine) fail(ctx context.Context, span trace.Span, op, flowID, nodeID string, err error) error {
	gerr := newGraphError(op, flowID, nodeID, err)
	if nodeID != "" {
		span.SetAttributes(telemetry.NodeIDKey.String(nodeID))
	}
	telemetry.SetError(span, gerr)
	if !hasKind(err) || errors.Is(err, ErrStorageFailure) {
		e.logger.ErrorContext(ctx, "Flow operation failed", "op", op, "flowId", flowID, "error", err)
	} else {
		e.logger.DebugContext(ctx, "Flow operation rejected", "op", op, "flowId", flowID, "error", err)
	}
	return gerr
}

// flowCheck validates a flow loaded inside a mutation before any write.
type flowCheck func(f *Flow) error

// editableBy allows structural edits by editors of uncommitted flows.
func editableBy(callerID string) flowCheck {
	return func(f *Flow) error {
		if !CanEditFlow(f, callerID) {
			return ErrUnauthorized
		}
		if f.IsCommitted {
			return ErrFlowCommitted
		}
		return nil
	}
}

func ownedBy(callerID string) flowCheck {
	return func(f *Flow) error {
		if callerID == "" || f.UserID != callerID {
			return ErrUnauthorized
		}
		return nil
	}
}

// mutate runs fn on flowID inside the flow lock and a single store
// transaction. The flow is re-read inside the transaction and passed through
// check before fn sees it.
func (e *Engine) mutate(ctx context.Context, flowID string, check flowCheck, fn func(ctx context.Context, tx Tx, f *Flow) error) error {
	unlock, err := e.locker.Lock(ctx, flowID)
	if err != nil {
		return fmt.Errorf("%w: lock flow: %w", ErrStorageFailure, err)
	}
	defer unlock()

	return e.store.Update(ctx, func(tx Tx) error {
		f, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		if err := check(f); err != nil {
			return err
		}
		return fn(ctx, tx, f)
	})
}

// GetFlowWithNodes returns the flow and all of its nodes in membership order.
// Both come from the same store snapshot.
func (e *Engine) GetFlowWithNodes(ctx context.Context, callerID, flowID string) (*FlowGraph, error) {
	const op = "GetFlowWithNodes"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	var graph *FlowGraph
	err := e.store.View(ctx, func(r Reader) error {
		f, err := NewAccessGuard(r).ViewableFlow(ctx, flowID, callerID)
		if err != nil {
			return err
		}
		nodes, err := r.ListNodes(ctx, flowID)
		if err != nil {
			return err
		}
		sortByMembership(nodes, f.Nodes)
		graph = &FlowGraph{Flow: f, Nodes: nonNil(nodes)}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, op, flowID, "", err)
	}
	return graph, nil
}

// GetFlowHead returns the flow with its head node resolved.
func (e *Engine) GetFlowHead(ctx context.Context, callerID, flowID string) (*FlowHead, error) {
	const op = "GetFlowHead"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	var (
		head   *FlowHead
		nodeID string
	)
	err := e.store.View(ctx, func(r Reader) error {
		f, err := NewAccessGuard(r).ViewableFlow(ctx, flowID, callerID)
		if err != nil {
			return err
		}
		nodeID = f.HeadNode
		n, err := r.GetNode(ctx, flowID, f.HeadNode)
		if err != nil {
			return err
		}
		head = &FlowHead{Flow: f, HeadNode: n}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, op, flowID, nodeID, err)
	}
	return head, nil
}

// ListFlows returns the flows owned by callerID, newest first.
func (e *Engine) ListFlows(ctx context.Context, callerID string) ([]Flow, error) {
	const op = "ListFlows"
	ctx, span := e.startSpan(ctx, op, callerID, "")
	defer span.End()

	if callerID == "" {
		return nil, e.fail(ctx, span, op, "", "", ErrUnauthorized)
	}
	flows, err := e.store.ListFlowsByOwner(ctx, callerID)
	if err != nil {
		return nil, e.fail(ctx, span, op, "", "", err)
	}
	return nonNil(flows), nil
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// sortByMembership orders nodes like ids; nodes missing from ids go last.
func sortByMembership(nodes []Node, ids []string) {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	slices.SortStableFunc(nodes, func(a, b Node) int {
		pa, oka := pos[a.ID]
		pb, okb := pos[b.ID]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
}
