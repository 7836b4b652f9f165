package flow

import (
	"context"
	"time"
)

// AddNode creates a node after previousNodeId and links it with a next edge.
// The new node points back at its predecessor with a parent edge.
func (e *Engine) AddNode(ctx context.Context, callerID, flowID string, req AddNodeRequest) (*Node, error) {
	const op = "AddNode"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	if err := validateRequest(e.validate, req); err != nil {
		return nil, e.fail(ctx, span, op, flowID, "", err)
	}
	edge := req.EdgeType
	if edge == "" {
		edge = EdgeNext
	}
	// Anything but a next edge would leave the new node unreachable.
	if edge != EdgeNext {
		return nil, e.fail(ctx, span, op, flowID, "", invalidInput("new nodes must be attached with a next edge, got %q", edge))
	}

	var added *Node
	err := e.mutate(ctx, flowID, editableBy(callerID), func(ctx context.Context, tx Tx, f *Flow) error {
		if !f.hasNode(req.PreviousNodeID) {
			return nodeNotFound(req.PreviousNodeID)
		}
		prev, err := tx.GetNode(ctx, f.ID, req.PreviousNodeID)
		if err != nil {
			return err
		}

		now := e.now()
		n := &Node{
			FlowID:      f.ID,
			UserID:      callerID,
			SystemTags:  []string{},
			Connections: []Connection{{NodeID: prev.ID, Type: EdgeParent}},
			IsEndNode:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		n.applyContent(req.Node)
		if err := tx.CreateNode(ctx, n); err != nil {
			return err
		}

		prev.Connections = append(prev.Connections, Connection{NodeID: n.ID, Type: edge, Name: req.Name})
		prev.refreshEndNode()
		prev.UpdatedAt = now
		if err := tx.UpdateNode(ctx, prev); err != nil {
			return err
		}

		f.Nodes = append(f.Nodes, n.ID)
		f.UpdatedAt = now
		if err := tx.UpdateFlow(ctx, f); err != nil {
			return err
		}
		added = n
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, op, flowID, req.PreviousNodeID, err)
	}

	e.logger.InfoContext(ctx, "Node added", "flowId", flowID, "nodeId", added.ID, "previousNodeId", req.PreviousNodeID)
	return added, nil
}

// UpdateNodeConnections creates, rewrites and deletes nodes of a flow in one
// pass. Upserts whose id is not a node of the flow are new nodes; their ids
// are temporary and may be used as connection targets by other upserts.
// Nodes left unreachable from the head afterwards are removed.
func (e *Engine) UpdateNodeConnections(ctx context.Context, callerID, flowID string, req UpdateNodesRequest) error {
	const op = "UpdateNodeConnections"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	if err := validateRequest(e.validate, req); err != nil {
		return e.fail(ctx, span, op, flowID, "", err)
	}

	var removed int
	err := e.mutate(ctx, flowID, editableBy(callerID), func(ctx context.Context, tx Tx, f *Flow) error {
		now := e.now()
		existing := make(map[string]bool, len(f.Nodes))
		for _, id := range f.Nodes {
			existing[id] = true
		}

		// Validate deletions before writing anything.
		doomed := make(map[string]bool, len(req.NodesToDelete))
		for _, id := range req.NodesToDelete {
			if id == f.HeadNode {
				return ErrCannotDeleteHead
			}
			if !existing[id] {
				return nodeNotFound(id)
			}
			doomed[id] = true
		}

		created, err := createTemporaryNodes(ctx, tx, f, req.NodeUpserts, existing, callerID, now)
		if err != nil {
			return err
		}
		resolve := func(id string) (string, bool) {
			if existing[id] {
				return id, true
			}
			if n, ok := created[id]; ok {
				return n.ID, true
			}
			return "", false
		}

		for _, s := range req.NodeUpserts {
			n, ok := created[s.ID]
			if !ok {
				if n, err = tx.GetNode(ctx, f.ID, s.ID); err != nil {
					return err
				}
			}
			conns, err := resolveConnections(s.Connections, resolve)
			if err != nil {
				return err
			}
			n.applyContent(s.NodeContent)
			n.Connections = conns
			n.refreshEndNode()
			n.UpdatedAt = now
			if err := tx.UpdateNode(ctx, n); err != nil {
				return err
			}
		}

		before := len(f.Nodes)
		if err := sweepGraph(ctx, tx, f, doomed, now); err != nil {
			return err
		}
		removed = before - len(f.Nodes)
		return nil
	})
	if err != nil {
		return e.fail(ctx, span, op, flowID, "", err)
	}

	e.logger.InfoContext(ctx, "Flow nodes updated", "flowId", flowID, "upserts", len(req.NodeUpserts), "removed", removed)
	return nil
}

// createTemporaryNodes creates an unwired node for every upsert whose id is
// not yet a node of f and records it under the temporary id.
func createTemporaryNodes(ctx context.Context, tx Tx, f *Flow, upserts []NodeSpec, existing map[string]bool, callerID string, now time.Time) (map[string]*Node, error) {
	created := make(map[string]*Node)
	for _, s := range upserts {
		if existing[s.ID] {
			continue
		}
		if _, dup := created[s.ID]; dup {
			return nil, invalidGraph("duplicate node id %q", s.ID)
		}
		n := &Node{
			FlowID:      f.ID,
			UserID:      callerID,
			SystemTags:  []string{},
			Connections: []Connection{},
			IsEndNode:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		n.applyContent(s.NodeContent)
		if err := tx.CreateNode(ctx, n); err != nil {
			return nil, err
		}
		created[s.ID] = n
		f.Nodes = append(f.Nodes, n.ID)
	}
	return created, nil
}

// DeleteNode removes a node and every node only reachable through it.
func (e *Engine) DeleteNode(ctx context.Context, callerID, flowID, nodeID string) error {
	const op = "DeleteNode"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	var removed int
	err := e.mutate(ctx, flowID, editableBy(callerID), func(ctx context.Context, tx Tx, f *Flow) error {
		if nodeID == f.HeadNode {
			return ErrCannotDeleteHead
		}
		if !f.hasNode(nodeID) {
			return nodeNotFound(nodeID)
		}

		before := len(f.Nodes)
		if err := sweepGraph(ctx, tx, f, map[string]bool{nodeID: true}, e.now()); err != nil {
			return err
		}
		removed = before - len(f.Nodes)
		return nil
	})
	if err != nil {
		return e.fail(ctx, span, op, flowID, nodeID, err)
	}

	e.logger.InfoContext(ctx, "Node deleted", "flowId", flowID, "nodeId", nodeID, "removed", removed)
	return nil
}

// DeleteFlow removes a flow and all of its nodes. Only the owner may delete
// a flow, committed or not.
func (e *Engine) DeleteFlow(ctx context.Context, callerID, flowID string) error {
	const op = "DeleteFlow"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	err := e.mutate(ctx, flowID, ownedBy(callerID), func(ctx context.Context, tx Tx, f *Flow) error {
		if err := tx.DeleteNodes(ctx, f.ID); err != nil {
			return err
		}
		return tx.DeleteFlow(ctx, f.ID)
	})
	if err != nil {
		return e.fail(ctx, span, op, flowID, "", err)
	}

	e.logger.InfoContext(ctx, "Flow deleted", "flowId", flowID)
	return nil
}

// CommitFlow freezes the flow's graph. Committed flows reject every
// structural change.
func (e *Engine) CommitFlow(ctx context.Context, callerID, flowID string) (*Flow, error) {
	const op = "CommitFlow"
	ctx, span := e.startSpan(ctx, op, callerID, flowID)
	defer span.End()

	var committed *Flow
	err := e.mutate(ctx, flowID, editableBy(callerID), func(ctx context.Context, tx Tx, f *Flow) error {
		f.IsCommitted = true
		f.IsDraft = false
		f.UpdatedAt = e.now()
		if err := tx.UpdateFlow(ctx, f); err != nil {
			return err
		}
		committed = f
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, op, flowID, "", err)
	}
	return committed, nil
}
