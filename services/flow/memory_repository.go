package flow

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var _ Store = (*MemoryRepository)(nil)

// MemoryRepository keeps flows and nodes in process memory. A published state
// is never modified: transactions work on a private copy that replaces the
// shared one on success. Writers run one at a time; readers never wait.
type MemoryRepository struct {
	writeMu sync.Mutex
	state   atomic.Pointer[memState]
}

type memState struct {
	flows map[string]Flow
	nodes map[string]Node
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	s := &MemoryRepository{}
	s.state.Store(&memState{
		flows: make(map[string]Flow),
		nodes: make(map[string]Node),
	})
	return s
}

func (s *MemoryRepository) GetFlow(_ context.Context, flowID string) (*Flow, error) {
	return s.state.Load().getFlow(flowID)
}

func (s *MemoryRepository) GetNode(_ context.Context, flowID, nodeID string) (*Node, error) {
	return s.state.Load().getNode(flowID, nodeID)
}

func (s *MemoryRepository) ListNodes(_ context.Context, flowID string) ([]Node, error) {
	return s.state.Load().listNodes(flowID), nil
}

func (s *MemoryRepository) ListFlowsByOwner(_ context.Context, userID string) ([]Flow, error) {
	var flows []Flow
	for _, f := range s.state.Load().flows {
		if f.UserID == userID {
			flows = append(flows, cloneFlow(f))
		}
	}
	slices.SortFunc(flows, func(a, b Flow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return flows, nil
}

// View reads from the state published when it was called.
func (s *MemoryRepository) View(_ context.Context, fn func(r Reader) error) error {
	return fn(&memTx{state: s.state.Load()})
}

func (s *MemoryRepository) Update(_ context.Context, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	work := s.state.Load().clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state.Store(work)
	return nil
}

func (s *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (st *memState) clone() *memState {
	c := &memState{
		flows: make(map[string]Flow, len(st.flows)),
		nodes: make(map[string]Node, len(st.nodes)),
	}
	for id, f := range st.flows {
		c.flows[id] = cloneFlow(f)
	}
	for id, n := range st.nodes {
		c.nodes[id] = cloneNode(n)
	}
	return c
}

func (st *memState) getFlow(flowID string) (*Flow, error) {
	f, ok := st.flows[flowID]
	if !ok {
		return nil, ErrFlowNotFound
	}
	f = cloneFlow(f)
	return &f, nil
}

func (st *memState) getNode(flowID, nodeID string) (*Node, error) {
	n, ok := st.nodes[nodeID]
	if !ok || n.FlowID != flowID {
		return nil, nodeNotFound(nodeID)
	}
	n = cloneNode(n)
	return &n, nil
}

func (st *memState) listNodes(flowID string) []Node {
	var nodes []Node
	for _, n := range st.nodes {
		if n.FlowID == flowID {
			nodes = append(nodes, cloneNode(n))
		}
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return nodes
}

type memTx struct {
	state *memState
}

func (t *memTx) GetFlow(_ context.Context, flowID string) (*Flow, error) {
	return t.state.getFlow(flowID)
}

func (t *memTx) GetNode(_ context.Context, flowID, nodeID string) (*Node, error) {
	return t.state.getNode(flowID, nodeID)
}

func (t *memTx) ListNodes(_ context.Context, flowID string) ([]Node, error) {
	return t.state.listNodes(flowID), nil
}

func (t *memTx) CreateFlow(_ context.Context, f *Flow) error {
	f.ID = uuid.NewString()
	t.state.flows[f.ID] = cloneFlow(*f)
	return nil
}

func (t *memTx) UpdateFlow(_ context.Context, f *Flow) error {
	if _, ok := t.state.flows[f.ID]; !ok {
		return ErrFlowNotFound
	}
	t.state.flows[f.ID] = cloneFlow(*f)
	return nil
}

func (t *memTx) DeleteFlow(_ context.Context, flowID string) error {
	if _, ok := t.state.flows[flowID]; !ok {
		return ErrFlowNotFound
	}
	delete(t.state.flows, flowID)
	return nil
}

func (t *memTx) CreateNode(_ context.Context, n *Node) error {
	if _, ok := t.state.flows[n.FlowID]; !ok {
		return ErrFlowNotFound
	}
	n.ID = uuid.NewString()
	t.state.nodes[n.ID] = cloneNode(*n)
	return nil
}

func (t *memTx) UpdateNode(_ context.Context, n *Node) error {
	if cur, ok := t.state.nodes[n.ID]; !ok || cur.FlowID != n.FlowID {
		return nodeNotFound(n.ID)
	}
	t.state.nodes[n.ID] = cloneNode(*n)
	return nil
}

func (t *memTx) DeleteNode(_ context.Context, flowID, nodeID string) error {
	if cur, ok := t.state.nodes[nodeID]; !ok || cur.FlowID != flowID {
		return nodeNotFound(nodeID)
	}
	delete(t.state.nodes, nodeID)
	return nil
}

func (t *memTx) DeleteNodes(_ context.Context, flowID string) error {
	maps.DeleteFunc(t.state.nodes, func(_ string, n Node) bool {
		return n.FlowID == flowID
	})
	return nil
}

func cloneFlow(f Flow) Flow {
	f.Tags = slices.Clone(f.Tags)
	f.SystemTags = slices.Clone(f.SystemTags)
	f.Nodes = slices.Clone(f.Nodes)
	f.SharedWith = slices.Clone(f.SharedWith)
	f.PaidUsers = slices.Clone(f.PaidUsers)
	f.ReFlowedFrom = slices.Clone(f.ReFlowedFrom)
	return f
}

func cloneNode(n Node) Node {
	n.Tags = slices.Clone(n.Tags)
	n.SystemTags = slices.Clone(n.SystemTags)
	n.Connections = slices.Clone(n.Connections)
	return n
}
