package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	FlowsCollection = "Flows"
	NodesCollection = "Nodes"
)

// namespaceExists is the server error code for creating an existing collection.
const namespaceExists = 48

var (
	_ Store             = (*MongoRepository)(nil)
	_ SchemaInitializer = (*MongoRepository)(nil)
)

// MongoRepository stores flows and nodes as documents of the Flows and Nodes
// collections. Multi-document writes use session transactions, which need a
// replica set or sharded cluster.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
	flows  *mongo.Collection
	nodes  *mongo.Collection
	logger *slog.Logger
}

// NewMongoRepository creates a MongoRepository on the named database.
func NewMongoRepository(client *mongo.Client, database string, logger *slog.Logger) *MongoRepository {
	db := client.Database(database)
	return &MongoRepository{
		client: client,
		db:     db,
		flows:  db.Collection(FlowsCollection),
		nodes:  db.Collection(NodesCollection),
		logger: logger,
	}
}

// InitSchema creates both collections and their indexes. Collections cannot
// be created implicitly inside a transaction on every server version, so
// they must exist before the first write.
func (r *MongoRepository) InitSchema(ctx context.Context) error {
	for _, name := range []string{FlowsCollection, NodesCollection} {
		err := r.db.CreateCollection(ctx, name)
		var cmdErr mongo.CommandError
		if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == namespaceExists) {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}

	_, err := r.flows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create flows index: %w", err)
	}
	_, err = r.nodes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "flowId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create nodes index: %w", err)
	}

	r.logger.InfoContext(ctx, "MongoDB collections ready", "database", r.db.Name())
	return nil
}

func (r *MongoRepository) GetFlow(ctx context.Context, flowID string) (*Flow, error) {
	var f Flow
	err := r.flows.FindOne(ctx, bson.M{"_id": flowID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return &f, nil
}

func (r *MongoRepository) GetNode(ctx context.Context, flowID, nodeID string) (*Node, error) {
	var n Node
	err := r.nodes.FindOne(ctx, bson.M{"_id": nodeID, "flowId": flowID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nodeNotFound(nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return &n, nil
}

func (r *MongoRepository) ListNodes(ctx context.Context, flowID string) ([]Node, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.nodes.Find(ctx, bson.M{"flowId": flowID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	var nodes []Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	return nodes, nil
}

// ListFlowsByOwner returns the flows owned by userID, newest first.
func (r *MongoRepository) ListFlowsByOwner(ctx context.Context, userID string) ([]Flow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := r.flows.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	var flows []Flow
	if err := cursor.All(ctx, &flows); err != nil {
		return nil, fmt.Errorf("decode flows: %w", err)
	}
	return flows, nil
}

// View runs fn in a transaction with snapshot read concern, so every find
// reads the same point in time.
func (r *MongoRepository) View(ctx context.Context, fn func(r Reader) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetReadPreference(readpref.Primary())
	_, err = session.WithTransaction(ctx, func(mongo.SessionContext) (any, error) {
		return nil, fn(&mongoTx{repo: r, session: session})
	}, opts)
	return err
}

// Update runs fn in a session transaction. The driver retries fn on
// transient transaction errors, so fn must not keep state between attempts.
func (r *MongoRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(mongo.SessionContext) (any, error) {
		return nil, fn(&mongoTx{repo: r, session: session})
	})
	return err
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

type mongoTx struct {
	repo    *MongoRepository
	session mongo.Session
}

// sc binds ctx to the transaction's session.
func (t *mongoTx) sc(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.session)
}

func (t *mongoTx) GetFlow(ctx context.Context, flowID string) (*Flow, error) {
	return t.repo.GetFlow(t.sc(ctx), flowID)
}

func (t *mongoTx) GetNode(ctx context.Context, flowID, nodeID string) (*Node, error) {
	return t.repo.GetNode(t.sc(ctx), flowID, nodeID)
}

func (t *mongoTx) ListNodes(ctx context.Context, flowID string) ([]Node, error) {
	return t.repo.ListNodes(t.sc(ctx), flowID)
}

func (t *mongoTx) CreateFlow(ctx context.Context, f *Flow) error {
	f.ID = primitive.NewObjectID().Hex()
	if _, err := t.repo.flows.InsertOne(t.sc(ctx), f); err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

func (t *mongoTx) UpdateFlow(ctx context.Context, f *Flow) error {
	res, err := t.repo.flows.ReplaceOne(t.sc(ctx), bson.M{"_id": f.ID}, f)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (t *mongoTx) DeleteFlow(ctx context.Context, flowID string) error {
	res, err := t.repo.flows.DeleteOne(t.sc(ctx), bson.M{"_id": flowID})
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (t *mongoTx) CreateNode(ctx context.Context, n *Node) error {
	n.ID = primitive.NewObjectID().Hex()
	if _, err := t.repo.nodes.InsertOne(t.sc(ctx), n); err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (t *mongoTx) UpdateNode(ctx context.Context, n *Node) error {
	res, err := t.repo.nodes.ReplaceOne(t.sc(ctx), bson.M{"_id": n.ID, "flowId": n.FlowID}, n)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	if res.MatchedCount == 0 {
		return nodeNotFound(n.ID)
	}
	return nil
}

func (t *mongoTx) DeleteNode(ctx context.Context, flowID, nodeID string) error {
	res, err := t.repo.nodes.DeleteOne(t.sc(ctx), bson.M{"_id": nodeID, "flowId": flowID})
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if res.DeletedCount == 0 {
		return nodeNotFound(nodeID)
	}
	return nil
}

func (t *mongoTx) DeleteNodes(ctx context.Context, flowID string) error {
	if _, err := t.repo.nodes.DeleteMany(t.sc(ctx), bson.M{"flowId": flowID}); err != nil {
		return fmt.Errorf("delete nodes: %w", err)
	}
	return nil
}
