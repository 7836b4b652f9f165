package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the Store contract the engine relies on. Every
// backend runs it against its own store.
func runStoreSuite(t *testing.T, store Store) {
	t.Run("CreateAndRead", func(t *testing.T) { testStoreCreateAndRead(t, store) })
	t.Run("RollbackOnError", func(t *testing.T) { testStoreRollback(t, store) })
	t.Run("NotFound", func(t *testing.T) { testStoreNotFound(t, store) })
	t.Run("DeleteFlowAndNodes", func(t *testing.T) { testStoreDelete(t, store) })
	t.Run("ListFlowsByOwner", func(t *testing.T) { testStoreListByOwner(t, store) })
	t.Run("ViewIsSnapshot", func(t *testing.T) { testStoreViewIsSnapshot(t, store) })
	t.Run("Engine", func(t *testing.T) { testStoreWithEngine(t, store) })
}

// seedFlow stores a flow owned by userID with a head and one follower.
func seedFlow(t *testing.T, store Store, userID string, createdAt time.Time) (*Flow, []string) {
	t.Helper()
	ctx := context.Background()

	var (
		f   *Flow
		ids []string
	)
	err := store.Update(ctx, func(tx Tx) error {
		f = &Flow{UserID: userID, Title: "seed", Tags: []string{}, Nodes: []string{}, CreatedAt: createdAt, UpdatedAt: createdAt}
		if err := tx.CreateFlow(ctx, f); err != nil {
			return err
		}
		for i, title := range []string{"head", "tail"} {
			n := &Node{FlowID: f.ID, UserID: userID, Title: title, IsHeadNode: i == 0, IsEndNode: true, Connections: []Connection{}, CreatedAt: createdAt.Add(time.Duration(i) * time.Second), UpdatedAt: createdAt}
			if err := tx.CreateNode(ctx, n); err != nil {
				return err
			}
			ids = append(ids, n.ID)
		}

		head, err := tx.GetNode(ctx, f.ID, ids[0])
		if err != nil {
			return err
		}
		head.Connections = []Connection{{NodeID: ids[1], Type: EdgeNext}}
		head.refreshEndNode()
		if err := tx.UpdateNode(ctx, head); err != nil {
			return err
		}

		f.HeadNode = ids[0]
		f.Nodes = ids
		return tx.UpdateFlow(ctx, f)
	})
	require.NoError(t, err)
	return f, ids
}

func testStoreCreateAndRead(t *testing.T, store Store) {
	ctx := context.Background()
	f, ids := seedFlow(t, store, uuid.NewString(), time.Now().UTC())

	got, err := store.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, ids[0], got.HeadNode)
	assert.Equal(t, ids, got.Nodes)

	nodes, err := store.ListNodes(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, ids, idsInOrder(nodes), "nodes come back in creation order")

	head, err := store.GetNode(ctx, f.ID, ids[0])
	require.NoError(t, err)
	assert.True(t, head.IsHeadNode)
	assert.False(t, head.IsEndNode)
	assert.Equal(t, []Connection{{NodeID: ids[1], Type: EdgeNext}}, head.Connections)
}

func testStoreRollback(t *testing.T, store Store) {
	ctx := context.Background()
	f, ids := seedFlow(t, store, uuid.NewString(), time.Now().UTC())
	errAbort := errors.New("abort")

	var createdID string
	err := store.Update(ctx, func(tx Tx) error {
		n := &Node{FlowID: f.ID, Title: "doomed", Connections: []Connection{}, CreatedAt: time.Now().UTC()}
		if err := tx.CreateNode(ctx, n); err != nil {
			return err
		}
		createdID = n.ID
		if err := tx.DeleteNode(ctx, f.ID, ids[1]); err != nil {
			return err
		}
		inTx, err := tx.ListNodes(ctx, f.ID)
		if err != nil {
			return err
		}
		assert.Len(t, inTx, 2, "writes are visible inside the transaction")
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = store.GetNode(ctx, f.ID, createdID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetNode(ctx, f.ID, ids[1])
	assert.NoError(t, err)
}

func testStoreNotFound(t *testing.T, store Store) {
	ctx := context.Background()
	f, ids := seedFlow(t, store, uuid.NewString(), time.Now().UTC())
	other, _ := seedFlow(t, store, uuid.NewString(), time.Now().UTC())

	_, err := store.GetFlow(ctx, "missing-flow")
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, err = store.GetNode(ctx, other.ID, ids[0])
	assert.ErrorIs(t, err, ErrNodeNotFound, "nodes are scoped to their flow")

	err = store.Update(ctx, func(tx Tx) error {
		missing := &Node{ID: "missing-node", FlowID: f.ID}
		return tx.UpdateNode(ctx, missing)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, func(tx Tx) error {
		return tx.DeleteFlow(ctx, "missing-flow")
	})
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func testStoreDelete(t *testing.T, store Store) {
	ctx := context.Background()
	f, _ := seedFlow(t, store, uuid.NewString(), time.Now().UTC())

	err := store.Update(ctx, func(tx Tx) error {
		if err := tx.DeleteNodes(ctx, f.ID); err != nil {
			return err
		}
		return tx.DeleteFlow(ctx, f.ID)
	})
	require.NoError(t, err)

	_, err = store.GetFlow(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	nodes, err := store.ListNodes(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func testStoreListByOwner(t *testing.T, store Store) {
	ctx := context.Background()
	userID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older, _ := seedFlow(t, store, userID, base)
	newer, _ := seedFlow(t, store, userID, base.Add(time.Hour))
	seedFlow(t, store, uuid.NewString(), base.Add(2*time.Hour))

	flows, err := store.ListFlowsByOwner(ctx, userID)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, newer.ID, flows[0].ID)
	assert.Equal(t, older.ID, flows[1].ID)
}

func testStoreViewIsSnapshot(t *testing.T, store Store) {
	ctx := context.Background()
	f, ids := seedFlow(t, store, uuid.NewString(), time.Now().UTC())

	err := store.View(ctx, func(r Reader) error {
		before, err := r.GetFlow(ctx, f.ID)
		if err != nil {
			return err
		}

		err = store.Update(ctx, func(tx Tx) error {
			cur, err := tx.GetFlow(ctx, f.ID)
			if err != nil {
				return err
			}
			if err := tx.DeleteNode(ctx, f.ID, ids[1]); err != nil {
				return err
			}
			cur.Nodes = ids[:1]
			return tx.UpdateFlow(ctx, cur)
		})
		require.NoError(t, err)

		nodes, err := r.ListNodes(ctx, f.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, before.Nodes, idsInOrder(nodes), "view reads one version of the flow")
		return nil
	})
	require.NoError(t, err)

	nodes, err := store.ListNodes(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[:1], idsInOrder(nodes))
}

func testStoreWithEngine(t *testing.T, store Store) {
	e := NewEngine(store, NewKeyedMutex(), testLogger())
	ctx := context.Background()
	userID := uuid.NewString()

	graph, err := e.CreateFlow(ctx, userID, chainRequest("A", "B", "C"))
	require.NoError(t, err)
	ids := idsByTitle(graph.Nodes)

	require.NoError(t, e.DeleteNode(ctx, userID, graph.Flow.ID, ids["B"]))

	after, err := e.GetFlowWithNodes(ctx, userID, graph.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["A"]}, after.Flow.Nodes)
	require.Len(t, after.Nodes, 1)
	assert.True(t, after.Nodes[0].IsEndNode)
	assertGraphInvariants(t, store, graph.Flow.ID)

	require.NoError(t, e.DeleteFlow(ctx, userID, graph.Flow.ID))
}

func TestMemoryRepository(t *testing.T) {
	runStoreSuite(t, NewMemoryRepository())
}
