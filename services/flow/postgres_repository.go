package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ Store             = (*PostgresRepository)(nil)
	_ SchemaInitializer = (*PostgresRepository)(nil)
)

// PostgresRepository stores flows and nodes in PostgreSQL as JSONB documents, one
// row per document.
type PostgresRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository backed by the given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: pool, logger: logger}
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InitSchema creates the flows and nodes tables if they do not exist.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS flows (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			document   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS flows_user_id_idx ON flows (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS nodes (
			id         TEXT PRIMARY KEY,
			flow_id    TEXT NOT NULL REFERENCES flows (id) ON DELETE CASCADE,
			document   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS nodes_flow_id_idx ON nodes (flow_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	r.logger.InfoContext(ctx, "PostgreSQL schema ready")
	return nil
}

func (r *PostgresRepository) GetFlow(ctx context.Context, flowID string) (*Flow, error) {
	return getFlow(ctx, r.db, flowID, false)
}

func (r *PostgresRepository) GetNode(ctx context.Context, flowID, nodeID string) (*Node, error) {
	return getNode(ctx, r.db, flowID, nodeID)
}

func (r *PostgresRepository) ListNodes(ctx context.Context, flowID string) ([]Node, error) {
	return listNodes(ctx, r.db, flowID)
}

// ListFlowsByOwner returns the flows owned by userID, newest first.
func (r *PostgresRepository) ListFlowsByOwner(ctx context.Context, userID string) ([]Flow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT document FROM flows WHERE user_id = $1 ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return collectDocuments[Flow](rows)
}

// View runs fn in a read-only REPEATABLE READ transaction, so every read
// sees the same snapshot.
func (r *PostgresRepository) View(ctx context.Context, fn func(r Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, r.db, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Update runs fn in a transaction. Mutations lock the flow row they read, so
// concurrent writers of one flow queue behind each other.
func (r *PostgresRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, lockFlows: true})
	})
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// pgTx serves both transaction kinds. lockFlows is set for writers only.
type pgTx struct {
	tx        pgx.Tx
	lockFlows bool
}

func (t *pgTx) GetFlow(ctx context.Context, flowID string) (*Flow, error) {
	return getFlow(ctx, t.tx, flowID, t.lockFlows)
}

func (t *pgTx) GetNode(ctx context.Context, flowID, nodeID string) (*Node, error) {
	return getNode(ctx, t.tx, flowID, nodeID)
}

func (t *pgTx) ListNodes(ctx context.Context, flowID string) ([]Node, error) {
	return listNodes(ctx, t.tx, flowID)
}

func (t *pgTx) CreateFlow(ctx context.Context, f *Flow) error {
	f.ID = uuid.NewString()
	doc, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO flows (id, user_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.UserID, doc, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateFlow(ctx context.Context, f *Flow) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE flows SET document = $2, updated_at = $3 WHERE id = $1
	`, f.ID, doc, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (t *pgTx) DeleteFlow(ctx context.Context, flowID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM flows WHERE id = $1`, flowID)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (t *pgTx) CreateNode(ctx context.Context, n *Node) error {
	n.ID = uuid.NewString()
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO nodes (id, flow_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.FlowID, doc, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateNode(ctx context.Context, n *Node) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE nodes SET document = $3, updated_at = $4 WHERE flow_id = $1 AND id = $2
	`, n.FlowID, n.ID, doc, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nodeNotFound(n.ID)
	}
	return nil
}

func (t *pgTx) DeleteNode(ctx context.Context, flowID, nodeID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM nodes WHERE flow_id = $1 AND id = $2`, flowID, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nodeNotFound(nodeID)
	}
	return nil
}

func (t *pgTx) DeleteNodes(ctx context.Context, flowID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM nodes WHERE flow_id = $1`, flowID); err != nil {
		return fmt.Errorf("delete nodes: %w", err)
	}
	return nil
}

func getFlow(ctx context.Context, q pgQuerier, flowID string, forUpdate bool) (*Flow, error) {
	query := `SELECT document FROM flows WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var doc []byte
	err := q.QueryRow(ctx, query, flowID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	var f Flow
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &f, nil
}

func getNode(ctx context.Context, q pgQuerier, flowID, nodeID string) (*Node, error) {
	var doc []byte
	err := q.QueryRow(ctx, `
		SELECT document FROM nodes WHERE flow_id = $1 AND id = $2
	`, flowID, nodeID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nodeNotFound(nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}

	var n Node
	if err := json.Unmarshal(doc, &n); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return &n, nil
}

func listNodes(ctx context.Context, q pgQuerier, flowID string) ([]Node, error) {
	rows, err := q.Query(ctx, `
		SELECT document FROM nodes WHERE flow_id = $1 ORDER BY created_at, id
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return collectDocuments[Node](rows)
}

func collectDocuments[T any](rows pgx.Rows) ([]T, error) {
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var (
			raw []byte
			doc T
		)
		if err := row.Scan(&raw); err != nil {
			return doc, err
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return doc, fmt.Errorf("unmarshal document: %w", err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect documents: %w", err)
	}
	return docs, nil
}
