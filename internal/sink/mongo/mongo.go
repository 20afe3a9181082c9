// Package mongo stores import batches as MongoDB documents.
//
// Each validated record becomes one document carrying createdAt and updatedAt
// timestamps. A batch is written with a single ordered InsertMany; MongoDB
// does not roll back documents inserted before a failure, so a failed batch
// may be partially stored.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

func init() {
	sink.Register("mongo", func(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
		return Open(ctx, cfg)
	})
}

// collection is the subset of *mongo.Collection the sink uses.
type collection interface {
	InsertMany(ctx context.Context, docs []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Indexes() mongo.IndexView
}

// Sink writes documents to one collection.
type Sink struct {
	client *mongo.Client
	coll   collection
	name   string
	now    func() time.Time
}

var _ sink.Sink = (*Sink)(nil)

// Open connects to the deployment in cfg.DSN and selects cfg.Database and
// cfg.Table as database and collection.
func Open(ctx context.Context, cfg sink.Config) (*Sink, error) {
	opts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.MinConns))
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	db := cfg.Database
	if db == "" {
		db = "ingest"
	}
	return &Sink{
		client: client,
		coll:   client.Database(db).Collection(cfg.Table),
		name:   cfg.Table,
		now:    time.Now,
	}, nil
}

// BulkWrite inserts one document per record, in row order.
func (s *Sink) BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) error {
	if len(batch) == 0 {
		return nil
	}
	now := s.now().UTC()
	docs := make([]interface{}, len(batch))
	for i, rec := range batch {
		docs[i] = document(rec, now)
	}

	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if n, ok := storedBefore(err); ok && n > 0 {
			return fmt.Errorf("mongo: insert into %s: %d of %d documents stored before failure: %w", s.name, n, len(batch), err)
		}
		return fmt.Errorf("mongo: insert into %s: %w", s.name, err)
	}
	if len(res.InsertedIDs) != len(batch) {
		return fmt.Errorf("mongo: insert into %s: wrote %d of %d documents", s.name, len(res.InsertedIDs), len(batch))
	}
	return nil
}

// storedBefore returns how many documents an ordered insert wrote before its
// first write error.
func storedBefore(err error) (int, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return 0, false
	}
	n := bwe.WriteErrors[0].Index
	for _, we := range bwe.WriteErrors[1:] {
		n = min(n, we.Index)
	}
	return n, true
}

// document maps a record to BSON with fields in sorted order.
func document(rec schema.ValidatedRecord, now time.Time) bson.D {
	doc := make(bson.D, 0, len(rec.Values)+2)
	for _, k := range sortedKeys(rec.Values) {
		doc = append(doc, bson.E{Key: k, Value: rec.Values[k]})
	}
	return append(doc,
		bson.E{Key: "createdAt", Value: now},
		bson.E{Key: "updatedAt", Value: now},
	)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnsureTable creates a descending createdAt index; collections themselves
// are created on first insert.
func (s *Sink) EnsureTable(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: index %s: %w", s.name, err)
	}
	return nil
}

// Recent returns the newest documents first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", s.name, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode %s: %w", s.name, err)
	}

	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = map[string]any(d)
	}
	return out, nil
}

func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Sink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
