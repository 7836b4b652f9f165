package flow

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NodeContent holds the caller-editable fields of a node.
type NodeContent struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Type     NodeType `json:"type" validate:"omitempty,oneof=text image audio video file flow embed choice"`
	MediaURL string   `json:"mediaUrl"`
}

// NodeSpec describes a node in a create or bulk update request. ID is either
// a persistent node id or a caller-local temporary id.
type NodeSpec struct {
	ID string `json:"id" validate:"required"`
	NodeContent
	Connections []Connection `json:"connections" validate:"dive"`
}

// CreateFlowRequest is the input of the graph builder.
type CreateFlowRequest struct {
	Title            string       `json:"title" validate:"required"`
	Description      string       `json:"description"`
	Tags             []string     `json:"tags"`
	Type             FlowType     `json:"type" validate:"omitempty,oneof=serial routine plan memory"`
	Visibility       Visibility   `json:"visibility" validate:"omitempty,oneof=public private shared paid"`
	Price            float64      `json:"price" validate:"gte=0"`
	SharedWith       []SharedUser `json:"sharedWith" validate:"dive"`
	IsSharedEditable bool         `json:"isSharedEditable"`
	PaidUsers        []PaidUser   `json:"paidUsers" validate:"dive"`
	IsCommitted      bool         `json:"isCommitted"`
	IsDraft          bool         `json:"isDraft"`
	Origin           *Provenance  `json:"origin"`
	ReFlowedFrom     []Provenance `json:"reFlowedFrom"`
	HeadNode         *NodeSpec    `json:"headNode" validate:"required"`
	Nodes            []NodeSpec   `json:"nodes" validate:"dive"`
}

// AddNodeRequest attaches a new node after an existing one.
type AddNodeRequest struct {
	PreviousNodeID string      `json:"previousNodeId" validate:"required"`
	Node           NodeContent `json:"node"`
	EdgeType       EdgeType    `json:"type" validate:"omitempty,oneof=next sibling parent"`
	Name           string      `json:"name"`
}

// UpdateNodesRequest reconciles a flow's nodes in one pass.
type UpdateNodesRequest struct {
	NodesToDelete []string   `json:"nodesToDelete" validate:"dive,required"`
	NodeUpserts   []NodeSpec `json:"nodeUpserts" validate:"dive"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks req against its struct tags and reports the first
// offending field.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidInput("%v", err)
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return invalidInput("%s is required", fieldPath(fe))
	}
	return invalidInput("%s is invalid", fieldPath(fe))
}

// fieldPath drops the top-level struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}
