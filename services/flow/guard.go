package flow

import "context"

// AccessGuard decides whether a caller may view or edit a flow.
type AccessGuard struct {
	flows Reader
}

// NewAccessGuard creates a guard that loads flows from r.
func NewAccessGuard(r Reader) *AccessGuard {
	return &AccessGuard{flows: r}
}

// CanView loads the flow and reports whether callerID may read it.
func (g *AccessGuard) CanView(ctx context.Context, flowID, callerID string) (bool, error) {
	f, err := g.flows.GetFlow(ctx, flowID)
	if err != nil {
		return false, err
	}
	return CanViewFlow(f, callerID), nil
}

// ViewableFlow loads the flow for callerID, or returns ErrUnauthorized when
// the caller may not read it.
func (g *AccessGuard) ViewableFlow(ctx context.Context, flowID, callerID string) (*Flow, error) {
	f, err := g.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !CanViewFlow(f, callerID) {
		return nil, ErrUnauthorized
	}
	return f, nil
}

// CanEdit loads the flow and reports whether callerID may change it.
func (g *AccessGuard) CanEdit(ctx context.Context, flowID, callerID string) (bool, error) {
	f, err := g.flows.GetFlow(ctx, flowID)
	if err != nil {
		return false, err
	}
	return CanEditFlow(f, callerID), nil
}

// CanViewFlow: owners always, everyone on public flows, listed users on
// shared flows and buyers of paid flows.
func CanViewFlow(f *Flow, callerID string) bool {
	if callerID != "" && f.UserID == callerID {
		return true
	}
	switch f.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityShared:
		_, ok := sharedUser(f, callerID)
		return ok
	case VisibilityPaid:
		for _, p := range f.PaidUsers {
			if p.UserID == callerID {
				return true
			}
		}
	}
	return false
}

// CanEditFlow: owners always; on shared flows admins and editors, or every
// listed user when the flow is shared editable. Buyers never edit.
func CanEditFlow(f *Flow, callerID string) bool {
	if callerID == "" {
		return false
	}
	if f.UserID == callerID {
		return true
	}
	if f.Visibility != VisibilityShared {
		return false
	}
	su, ok := sharedUser(f, callerID)
	if !ok {
		return false
	}
	return f.IsSharedEditable || su.Role == RoleAdmin || su.Role == RoleEditor
}

func sharedUser(f *Flow, callerID string) (SharedUser, bool) {
	if callerID == "" {
		return SharedUser{}, false
	}
	for _, su := range f.SharedWith {
		if su.UserID == callerID {
			return su, true
		}
	}
	return SharedUser{}, false
}
