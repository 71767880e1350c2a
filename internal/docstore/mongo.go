package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo maps each collection onto a MongoDB collection of the same name.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and pings the primary.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect", "mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping", "mongo", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

func mongoFilter(q Query) bson.M {
	if len(q.Any) == 0 {
		return bson.M{}
	}
	or := make(bson.A, 0, len(q.Any))
	for _, m := range q.Any {
		cond := bson.M{}
		for f, v := range m {
			// Equality on an array field matches any element.
			cond[f] = v
		}
		or = append(or, cond)
	}
	if len(or) == 1 {
		return or[0].(bson.M)
	}
	return bson.M{"$or": or}
}

func (m *Mongo) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	opts := options.Find()
	if q.SortBy != "" {
		opts.SetSort(bson.D{{Key: q.SortBy, Value: 1}})
	}

	cursor, err := m.db.Collection(collection).Find(ctx, mongoFilter(q), opts)
	if err != nil {
		return nil, unavailable("find", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, unavailable("find", collection, err)
	}
	docs := make([]Document, 0, len(raw))
	for _, r := range raw {
		docs = append(docs, normalizeMap(r))
	}
	return docs, nil
}

// idFilter matches both string ids and ObjectIDs written by other clients.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func (m *Mongo) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, idFilter(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", collection, err)
	}
	return normalizeMap(raw), nil
}

func (m *Mongo) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	if doc.ID() == "" {
		doc[IDField] = uuid.New().String()
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("docstore: insert %s: %w", collection, ErrDuplicate)
		}
		return "", unavailable("insert", collection, err)
	}
	return doc.ID(), nil
}

func (m *Mongo) Update(ctx context.Context, collection, id string, fields Document) error {
	delete(fields, IDField)
	res, err := m.db.Collection(collection).UpdateOne(ctx, idFilter(id), bson.M{"$set": bson.M(fields)})
	if err != nil {
		return unavailable("update", collection, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceAll runs inside a transaction when the deployment supports one and
// falls back to delete-then-insert on standalone servers.
func (m *Mongo) ReplaceAll(ctx context.Context, collection string, docs []Document) error {
	coll := m.db.Collection(collection)
	items := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		if d.ID() == "" {
			d[IDField] = uuid.New().String()
		}
		items = append(items, bson.M(d))
	}

	replace := func(sc context.Context) error {
		if _, err := coll.DeleteMany(sc, bson.M{}); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		_, err := coll.InsertMany(sc, items)
		return err
	}

	session, err := m.client.StartSession()
	if err != nil {
		if err := replace(ctx); err != nil {
			return unavailable("replace", collection, err)
		}
		return nil
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, replace(sc)
	})
	if err != nil {
		// Standalone servers reject transactions outright.
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == 20 {
			if err := replace(ctx); err != nil {
				return unavailable("replace", collection, err)
			}
			return nil
		}
		return unavailable("replace", collection, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("docstore: disconnect mongo: %w", err)
	}
	return nil
}

// normalizeMap converts driver types into the plain JSON shapes the other
// backends return.
func normalizeMap(in bson.M) Document {
	out := make(Document, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		return map[string]any(normalizeMap(val))
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}
