package flow

import "context"

// Reader is the read side of the graph store.
type Reader interface {
	// GetFlow returns ErrFlowNotFound when no flow has the id.
	GetFlow(ctx context.Context, flowID string) (*Flow, error)
	// GetNode returns ErrNodeNotFound unless the node exists within the flow.
	GetNode(ctx context.Context, flowID, nodeID string) (*Node, error)
	ListNodes(ctx context.Context, flowID string) ([]Node, error)
}

// Tx is a store transaction. Writes made through a Tx are visible to its own
// reads and become durable only when the enclosing Update returns nil.
type Tx interface {
	Reader

	// CreateFlow and CreateNode assign the document id.
	CreateFlow(ctx context.Context, f *Flow) error
	UpdateFlow(ctx context.Context, f *Flow) error
	DeleteFlow(ctx context.Context, flowID string) error

	CreateNode(ctx context.Context, n *Node) error
	UpdateNode(ctx context.Context, n *Node) error
	DeleteNode(ctx context.Context, flowID, nodeID string) error
	DeleteNodes(ctx context.Context, flowID string) error
}

// Store persists flows and nodes as separate documents.
type Store interface {
	Reader

	ListFlowsByOwner(ctx context.Context, userID string) ([]Flow, error)

	// View runs fn against one consistent snapshot of the store. Reads made
	// through r never observe a concurrent Update half applied.
	View(ctx context.Context, fn func(r Reader) error) error

	// Update runs fn in a single transaction. Any error returned by fn rolls
	// back every write fn made.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
}

// SchemaInitializer is implemented by stores that need tables, collections
// or indexes created before use.
type SchemaInitializer interface {
	InitSchema(ctx context.Context) error
}
