package flow

import (
	"context"
	"time"
)

// CreateFlow stores a new flow and its whole initial graph in one
// transaction. Node specs reference each other through caller-local
// temporary ids, which are replaced by persistent ids once every node exists.
func (e *Engine) CreateFlow(ctx context.Context, callerID string, req CreateFlowRequest) (*FlowGraph, error) {
	const op = "CreateFlow"
	ctx, span := e.startSpan(ctx, op, callerID, "")
	defer span.End()

	if callerID == "" {
		return nil, e.fail(ctx, span, op, "", "", ErrUnauthorized)
	}
	if err := validateRequest(e.validate, req); err != nil {
		return nil, e.fail(ctx, span, op, "", "", err)
	}
	specs, err := graphSpecs(req)
	if err != nil {
		return nil, e.fail(ctx, span, op, "", "", err)
	}

	var graph *FlowGraph
	err = e.store.Update(ctx, func(tx Tx) error {
		g, err := buildFlow(ctx, tx, callerID, req, specs, e.now())
		if err != nil {
			return err
		}
		graph = g
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, op, "", "", err)
	}

	e.logger.InfoContext(ctx, "Flow created", "flowId", graph.Flow.ID, "nodes", len(graph.Nodes))
	return graph, nil
}

// graphSpecs returns the head spec followed by the other node specs, after
// checking that temporary ids are unique and every node hangs off the head.
// Unknown connection targets are reported while wiring.
func graphSpecs(req CreateFlowRequest) ([]NodeSpec, error) {
	specs := make([]NodeSpec, 0, len(req.Nodes)+1)
	specs = append(specs, *req.HeadNode)
	specs = append(specs, req.Nodes...)

	seen := make(map[string]bool, len(specs))
	draft := make([]Node, 0, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, invalidGraph("duplicate node id %q", s.ID)
		}
		seen[s.ID] = true
		draft = append(draft, Node{ID: s.ID, Connections: withDefaultEdges(s.Connections)})
	}

	if orphans := collectOrphans(draft, req.HeadNode.ID); len(orphans) > 0 {
		return nil, invalidGraph("node %q is not reachable from the head node", orphans[0])
	}
	return specs, nil
}

func buildFlow(ctx context.Context, tx Tx, callerID string, req CreateFlowRequest, specs []NodeSpec, now time.Time) (*FlowGraph, error) {
	f := newFlow(callerID, req, now)
	if err := tx.CreateFlow(ctx, f); err != nil {
		return nil, err
	}

	// First pass: create every node unwired so it gets a persistent id.
	ids := make(map[string]string, len(specs))
	nodes := make([]*Node, 0, len(specs))
	for i, s := range specs {
		n := &Node{
			FlowID:      f.ID,
			UserID:      callerID,
			SystemTags:  []string{},
			Connections: []Connection{},
			IsHeadNode:  i == 0,
			IsEndNode:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		n.applyContent(s.NodeContent)
		if err := tx.CreateNode(ctx, n); err != nil {
			return nil, err
		}
		ids[s.ID] = n.ID
		nodes = append(nodes, n)
	}

	f.HeadNode = nodes[0].ID
	for _, n := range nodes {
		f.Nodes = append(f.Nodes, n.ID)
	}
	if f.Origin.FlowID == "" {
		f.Origin = Provenance{UserID: callerID, FlowID: f.ID}
	}

	// Second pass: rewrite temporary targets to persistent ids.
	for i, s := range specs {
		if len(s.Connections) == 0 {
			continue
		}
		conns, err := resolveConnections(s.Connections, func(id string) (string, bool) {
			persistent, ok := ids[id]
			return persistent, ok
		})
		if err != nil {
			return nil, err
		}
		n := nodes[i]
		n.Connections = conns
		n.refreshEndNode()
		if err := tx.UpdateNode(ctx, n); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateFlow(ctx, f); err != nil {
		return nil, err
	}

	graph := &FlowGraph{Flow: f, Nodes: make([]Node, 0, len(nodes))}
	for _, n := range nodes {
		graph.Nodes = append(graph.Nodes, *n)
	}
	return graph, nil
}

func newFlow(callerID string, req CreateFlowRequest, now time.Time) *Flow {
	f := &Flow{
		UserID:           callerID,
		Title:            req.Title,
		Description:      req.Description,
		Tags:             nonNil(req.Tags),
		SystemTags:       []string{},
		Type:             req.Type,
		Visibility:       req.Visibility,
		Price:            req.Price,
		IsCommitted:      req.IsCommitted,
		IsDraft:          req.IsDraft,
		Nodes:            []string{},
		SharedWith:       nonNil(req.SharedWith),
		IsSharedEditable: req.IsSharedEditable,
		PaidUsers:        nonNil(req.PaidUsers),
		ReFlowedFrom:     nonNil(req.ReFlowedFrom),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if f.Type == "" {
		f.Type = FlowTypeSerial
	}
	if f.Visibility == "" {
		f.Visibility = VisibilityPublic
	}
	if req.Origin != nil {
		f.Origin = *req.Origin
	}
	return f
}

// resolveConnections maps every connection target through resolve. An empty
// edge type means next.
func resolveConnections(conns []Connection, resolve func(id string) (string, bool)) ([]Connection, error) {
	out := make([]Connection, 0, len(conns))
	for _, c := range withDefaultEdges(conns) {
		if !c.Type.valid() {
			return nil, invalidInput("connection type %q is invalid", c.Type)
		}
		target, ok := resolve(c.NodeID)
		if !ok {
			return nil, invalidGraph("connection to unknown node %q", c.NodeID)
		}
		out = append(out, Connection{NodeID: target, Type: c.Type, Name: c.Name})
	}
	return out, nil
}

func withDefaultEdges(conns []Connection) []Connection {
	out := make([]Connection, len(conns))
	for i, c := range conns {
		if c.Type == "" {
			c.Type = EdgeNext
		}
		out[i] = c
	}
	return out
}
