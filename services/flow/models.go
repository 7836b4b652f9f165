package flow

import (
	"slices"
	"time"
)

// FlowType classifies how a flow is meant to be read.
type FlowType string

const (
	FlowTypeSerial  FlowType = "serial"
	FlowTypeRoutine FlowType = "routine"
	FlowTypePlan    FlowType = "plan"
	FlowTypeMemory  FlowType = "memory"
)

// Visibility controls who may view a flow.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPaid    Visibility = "paid"
)

// ShareRole is the role granted to a user a flow is shared with.
type ShareRole string

const (
	RoleAdmin  ShareRole = "admin"
	RoleEditor ShareRole = "editor"
	RoleViewer ShareRole = "viewer"
)

// NodeType describes the content carried by a node.
type NodeType string

const (
	NodeTypeText   NodeType = "text"
	NodeTypeImage  NodeType = "image"
	NodeTypeAudio  NodeType = "audio"
	NodeTypeVideo  NodeType = "video"
	NodeTypeFile   NodeType = "file"
	NodeTypeFlow   NodeType = "flow"
	NodeTypeEmbed  NodeType = "embed"
	NodeTypeChoice NodeType = "choice"
)

// EdgeType is the kind of a connection between two nodes. Only next edges
// take part in reachability and end-node computation.
type EdgeType string

const (
	EdgeNext    EdgeType = "next"
	EdgeSibling EdgeType = "sibling"
	EdgeParent  EdgeType = "parent"
)

func (t EdgeType) valid() bool {
	switch t {
	case EdgeNext, EdgeSibling, EdgeParent:
		return true
	}
	return false
}

// SharedUser grants a user access to a shared flow.
type SharedUser struct {
	UserID string    `json:"userId" bson:"userId" validate:"required"`
	Role   ShareRole `json:"role" bson:"role" validate:"required,oneof=admin editor viewer"`
}

// PaidUser is a user who bought access to a paid flow.
type PaidUser struct {
	UserID    string `json:"userId" bson:"userId" validate:"required"`
	CanReFlow bool   `json:"canReFlow" bson:"canReFlow"`
}

// Provenance identifies a flow a copy was derived from.
type Provenance struct {
	UserID string `json:"userId" bson:"userId"`
	FlowID string `json:"flowId" bson:"flowId"`
}

// Flow is a user-owned directed graph of nodes. Nodes are stored as separate
// documents; Nodes caches their ids.
type Flow struct {
	ID               string       `json:"id" bson:"_id"`
	UserID           string       `json:"userId" bson:"userId"`
	Title            string       `json:"title" bson:"title"`
	Description      string       `json:"description,omitempty" bson:"description,omitempty"`
	Tags             []string     `json:"tags" bson:"tags"`
	SystemTags       []string     `json:"systemTags" bson:"systemTags"`
	Type             FlowType     `json:"type" bson:"type"`
	Visibility       Visibility   `json:"visibility" bson:"visibility"`
	Price            float64      `json:"price" bson:"price"`
	IsCommitted      bool         `json:"isCommitted" bson:"isCommitted"`
	IsDraft          bool         `json:"isDraft" bson:"isDraft"`
	HeadNode         string       `json:"headNode" bson:"headNode"`
	Nodes            []string     `json:"nodes" bson:"nodes"`
	SharedWith       []SharedUser `json:"sharedWith" bson:"sharedWith"`
	IsSharedEditable bool         `json:"isSharedEditable" bson:"isSharedEditable"`
	PaidUsers        []PaidUser   `json:"paidUsers" bson:"paidUsers"`
	Origin           Provenance   `json:"origin" bson:"origin"`
	ReFlowedFrom     []Provenance `json:"reFlowedFrom" bson:"reFlowedFrom"`
	CreatedAt        time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt" bson:"updatedAt"`
}

func (f *Flow) hasNode(id string) bool {
	return slices.Contains(f.Nodes, id)
}

// Connection is an outgoing edge from a node.
type Connection struct {
	NodeID string   `json:"nodeId" bson:"nodeId" validate:"required"`
	Type   EdgeType `json:"type" bson:"type" validate:"omitempty,oneof=next sibling parent"`
	Name   string   `json:"name,omitempty" bson:"name,omitempty"`
}

// Node is a single content unit of a flow.
type Node struct {
	ID          string       `json:"id" bson:"_id"`
	FlowID      string       `json:"flowId" bson:"flowId"`
	UserID      string       `json:"userId" bson:"userId"`
	Title       string       `json:"title" bson:"title"`
	Content     string       `json:"content" bson:"content"`
	Tags        []string     `json:"tags" bson:"tags"`
	SystemTags  []string     `json:"systemTags" bson:"systemTags"`
	Type        NodeType     `json:"type" bson:"type"`
	Connections []Connection `json:"connections" bson:"connections"`
	MediaURL    string       `json:"mediaUrl,omitempty" bson:"mediaUrl,omitempty"`
	IsHeadNode  bool         `json:"isHeadNode" bson:"isHeadNode"`
	IsEndNode   bool         `json:"isEndNode" bson:"isEndNode"`
	CreatedAt   time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// refreshEndNode keeps IsEndNode in step with the node's next edges.
func (n *Node) refreshEndNode() {
	n.IsEndNode = !hasNextConnection(n.Connections)
}

func (n *Node) applyContent(c NodeContent) {
	n.Title = c.Title
	n.Content = c.Content
	n.Tags = nonNil(c.Tags)
	n.Type = c.Type
	if n.Type == "" {
		n.Type = NodeTypeText
	}
	n.MediaURL = c.MediaURL
}

func hasNextConnection(conns []Connection) bool {
	for _, c := range conns {
		if c.Type == EdgeNext {
			return true
		}
	}
	return false
}

// FlowGraph is the read model of a flow: the flow document and its nodes in
// membership order.
type FlowGraph struct {
	Flow  *Flow  `json:"flow"`
	Nodes []Node `json:"nodes"`
}

// FlowHead is a flow together with its resolved head node.
type FlowHead struct {
	Flow     *Flow `json:"flow"`
	HeadNode *Node `json:"headNode"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
