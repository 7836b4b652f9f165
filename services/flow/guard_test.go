package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanViewFlow_CanEditFlow(t *testing.T) {
	shared := []SharedUser{
		{UserID: "admin", Role: RoleAdmin},
		{UserID: "editor", Role: RoleEditor},
		{UserID: "viewer", Role: RoleViewer},
	}
	paid := []PaidUser{{UserID: "buyer", CanReFlow: true}}

	tests := []struct {
		name     string
		flow     Flow
		caller   string
		wantView bool
		wantEdit bool
	}{
		{"owner of private flow", Flow{UserID: "owner", Visibility: VisibilityPrivate}, "owner", true, true},
		{"stranger on private flow", Flow{UserID: "owner", Visibility: VisibilityPrivate}, "stranger", false, false},
		{"stranger on public flow", Flow{UserID: "owner", Visibility: VisibilityPublic}, "stranger", true, false},
		{"anonymous on public flow", Flow{UserID: "owner", Visibility: VisibilityPublic}, "", true, false},
		{"anonymous on private flow", Flow{UserID: "owner", Visibility: VisibilityPrivate}, "", false, false},
		{"shared admin", Flow{UserID: "owner", Visibility: VisibilityShared, SharedWith: shared}, "admin", true, true},
		{"shared editor", Flow{UserID: "owner", Visibility: VisibilityShared, SharedWith: shared}, "editor", true, true},
		{"shared viewer", Flow{UserID: "owner", Visibility: VisibilityShared, SharedWith: shared}, "viewer", true, false},
		{"shared viewer on editable flow", Flow{UserID: "owner", Visibility: VisibilityShared, SharedWith: shared, IsSharedEditable: true}, "viewer", true, true},
		{"unlisted user on shared flow", Flow{UserID: "owner", Visibility: VisibilityShared, SharedWith: shared}, "stranger", false, false},
		{"share list ignored on private flow", Flow{UserID: "owner", Visibility: VisibilityPrivate, SharedWith: shared}, "editor", false, false},
		{"buyer of paid flow", Flow{UserID: "owner", Visibility: VisibilityPaid, PaidUsers: paid}, "buyer", true, false},
		{"non-buyer of paid flow", Flow{UserID: "owner", Visibility: VisibilityPaid, PaidUsers: paid}, "stranger", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantView, CanViewFlow(&tt.flow, tt.caller), "view")
			assert.Equal(t, tt.wantEdit, CanEditFlow(&tt.flow, tt.caller), "edit")
		})
	}
}

func TestAccessGuard(t *testing.T) {
	e, store := newTestEngine(t)
	req := chainRequest("a")
	req.Visibility = VisibilityShared
	req.SharedWith = []SharedUser{{UserID: "viewer", Role: RoleViewer}}
	graph, _ := createFlow(t, e, req)

	guard := NewAccessGuard(store)
	ctx := context.Background()

	ok, err := guard.CanView(ctx, graph.Flow.ID, "viewer")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.CanEdit(ctx, graph.Flow.ID, "viewer")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.CanEdit(ctx, graph.Flow.ID, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = guard.CanView(ctx, "missing", owner)
	assert.ErrorIs(t, err, ErrNotFound)

	f, err := guard.ViewableFlow(ctx, graph.Flow.ID, "viewer")
	require.NoError(t, err)
	assert.Equal(t, graph.Flow.ID, f.ID)

	_, err = guard.ViewableFlow(ctx, graph.Flow.ID, stranger)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
