package mongo

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/omnierp/go-erp/es"
)

// NewClient connects to mongodb and builds a store on the named database.
func NewClient(ctx context.Context, uri, db string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, es.Backendf("connect mongo: %v", err)
	}

	store := &Store{db: client.Database(db)}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// NewStore builds a store on an existing database handle.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Store is a MongoDB es.EventStore and es.SnapshotStore. A stream
// document holds the head version; appends CAS it forward before
// inserting event documents, and a unique index on
// (tenant_id, aggregate_id, sequence_number) backstops races.
type Store struct {
	db *mongo.Database
}

func (c *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := c.db.Collection(EventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "aggregate_id", Value: 1},
			{Key: "sequence_number", Value: 1},
		},
		Options: unique,
	})
	if err != nil {
		return es.Backendf("create events index: %v", err)
	}

	_, err = c.db.Collection(StreamsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "aggregate_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return es.Backendf("create streams index: %v", err)
	}

	_, err = c.db.Collection(SnapshotsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "aggregate_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return es.Backendf("create snapshots index: %v", err)
	}
	return nil
}

func (c *Store) Append(ctx context.Context, events []es.UncommittedEvent, expected es.ExpectedVersion) ([]es.Event, error) {
	if len(events) == 0 {
		return nil, es.Validationf("nothing to append")
	}

	first := events[0]
	if first.TenantID.IsZero() {
		return nil, es.Validationf("append is missing a tenant id")
	}
	for _, evt := range events[1:] {
		if evt.TenantID != first.TenantID || evt.AggregateID != first.AggregateID || evt.AggregateType != first.AggregateType {
			return nil, es.Validationf("append spans more than one stream")
		}
	}

	logger := log.
		With().
		Str("tenant_id", first.TenantID.String()).
		Str("aggregate_id", first.AggregateID.String()).
		Str("aggregate_type", first.AggregateType).
		Logger()

	filter := bson.M{
		"tenant_id":    first.TenantID.String(),
		"aggregate_id": first.AggregateID.String(),
	}

	stream := &StreamDB{}
	err := c.db.
		Collection(StreamsCollection).
		FindOne(ctx, filter).
		Decode(stream)
	switch {
	case err == mongo.ErrNoDocuments:
		stream = nil
	case err != nil:
		logger.Error().Err(err).Msg("Could not load stream")
		return nil, es.Backendf("load stream: %v", err)
	}

	var current int64
	if stream != nil {
		if stream.Type != first.AggregateType {
			return nil, es.TenantIsolationf("stream %s holds %s events, want %s", first.AggregateID, stream.Type, first.AggregateType)
		}
		current = stream.Version
	}
	if !expected.Matches(current) {
		return nil, es.Conflictf("stream %s is at version %d, expected %s", first.AggregateID, current, expected)
	}

	next := current + int64(len(events))

	if stream == nil {
		_, err = c.db.
			Collection(StreamsCollection).
			InsertOne(ctx, &StreamDB{
				TenantID:    first.TenantID.String(),
				AggregateID: first.AggregateID.String(),
				Type:        first.AggregateType,
				Version:     next,
			})
		if mongo.IsDuplicateKeyError(err) {
			return nil, es.Conflictf("stream %s lost a create race", first.AggregateID)
		}
	} else {
		res, uerr := c.db.
			Collection(StreamsCollection).
			UpdateOne(ctx,
				bson.M{
					"tenant_id":    first.TenantID.String(),
					"aggregate_id": first.AggregateID.String(),
					"version":      current,
				},
				bson.M{"$set": bson.M{"version": next}})
		err = uerr
		if err == nil && res.ModifiedCount == 0 {
			return nil, es.Conflictf("stream %s is past version %d", first.AggregateID, current)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("Could not advance stream")
		return nil, es.Backendf("advance stream: %v", err)
	}

	committed := make([]es.Event, 0, len(events))
	items := make([]interface{}, 0, len(events))
	for i, evt := range events {
		stored := es.Event{
			EventID:        es.NewEventID(),
			TenantID:       evt.TenantID,
			AggregateID:    evt.AggregateID,
			AggregateType:  evt.AggregateType,
			SequenceNumber: current + int64(i) + 1,
			EventType:      evt.EventType,
			EventVersion:   evt.EventVersion,
			OccurredAt:     evt.OccurredAt,
			Payload:        evt.Payload,
			Metadata:       evt.Metadata,
		}
		committed = append(committed, stored)
		items = append(items, toEventDB(stored))
	}

	if _, err := c.db.
		Collection(EventsCollection).
		InsertMany(ctx, items); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, es.Conflictf("stream %s lost an append race", first.AggregateID)
		}
		logger.Error().Err(err).Msg("Could not insert events")
		return nil, es.Backendf("insert events: %v", err)
	}

	return committed, nil
}

func (c *Store) LoadStream(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) ([]es.Event, error) {
	return c.LoadStreamFrom(ctx, tenantID, aggregateID, 0)
}

func (c *Store) LoadStreamFrom(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, after int64) ([]es.Event, error) {
	query := bson.M{
		"tenant_id":       tenantID.String(),
		"aggregate_id":    aggregateID.String(),
		"sequence_number": bson.M{"$gt": after},
	}
	opts := options.Find().SetSort(bson.D{{Key: "sequence_number", Value: 1}})

	cur, err := c.db.
		Collection(EventsCollection).
		Find(ctx, query, opts)
	if err != nil {
		return nil, es.Backendf("find events: %v", err)
	}
	defer cur.Close(ctx)

	var out []es.Event
	for cur.Next(ctx) {
		var item EventDB
		if err := cur.Decode(&item); err != nil {
			return nil, es.Backendf("decode event: %v", err)
		}
		evt, err := fromEventDB(item)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := cur.Err(); err != nil {
		return nil, es.Backendf("find events: %v", err)
	}
	return out, nil
}

func (c *Store) LoadAllForTenant(ctx context.Context, tenantID es.TenantID, fn func(es.Event) error) error {
	query := bson.M{"tenant_id": tenantID.String()}
	opts := options.Find().SetSort(bson.D{
		{Key: "aggregate_id", Value: 1},
		{Key: "sequence_number", Value: 1},
	})

	cur, err := c.db.
		Collection(EventsCollection).
		Find(ctx, query, opts)
	if err != nil {
		return es.Backendf("find tenant events: %v", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var item EventDB
		if err := cur.Decode(&item); err != nil {
			return es.Backendf("decode event: %v", err)
		}
		evt, err := fromEventDB(item)
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return es.Backendf("find tenant events: %v", err)
	}
	return nil
}

func (c *Store) SaveSnapshot(ctx context.Context, snapshot es.Snapshot) error {
	filter := bson.M{
		"tenant_id":    snapshot.TenantID.String(),
		"aggregate_id": snapshot.AggregateID.String(),
	}
	update := bson.M{
		"$set": &SnapshotDB{
			TenantID:      snapshot.TenantID.String(),
			AggregateID:   snapshot.AggregateID.String(),
			AggregateType: snapshot.AggregateType,
			Version:       snapshot.Version,
			State:         snapshot.State,
			CreatedAt:     snapshot.CreatedAt,
		},
	}

	if _, err := c.db.
		Collection(SnapshotsCollection).
		UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		log.Error().Err(err).Msg("Could not upsert snapshot")
		return es.Backendf("save snapshot: %v", err)
	}
	return nil
}

func (c *Store) LoadSnapshot(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) (*es.Snapshot, error) {
	filter := bson.M{
		"tenant_id":    tenantID.String(),
		"aggregate_id": aggregateID.String(),
	}

	item := &SnapshotDB{}
	err := c.db.
		Collection(SnapshotsCollection).
		FindOne(ctx, filter).
		Decode(item)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, es.Backendf("load snapshot: %v", err)
	}

	snap, err := fromSnapshotDB(*item)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close underlying connection.
func (c *Store) Close() error {
	if c.db != nil {
		return c.db.
			Client().
			Disconnect(context.TODO())
	}
	return nil
}

func toEventDB(evt es.Event) *EventDB {
	return &EventDB{
		EventID:        evt.EventID.String(),
		TenantID:       evt.TenantID.String(),
		AggregateID:    evt.AggregateID.String(),
		AggregateType:  evt.AggregateType,
		SequenceNumber: evt.SequenceNumber,
		EventType:      evt.EventType,
		EventVersion:   evt.EventVersion,
		OccurredAt:     evt.OccurredAt,
		Payload:        evt.Payload,
		Metadata:       evt.Metadata,
	}
}

func fromEventDB(item EventDB) (es.Event, error) {
	eventID, err := es.ParseEventID(item.EventID)
	if err != nil {
		return es.Event{}, es.Backendf("stored event id: %v", err)
	}
	tenantID, err := es.ParseTenantID(item.TenantID)
	if err != nil {
		return es.Event{}, es.Backendf("stored tenant id: %v", err)
	}
	aggregateID, err := es.ParseAggregateID(item.AggregateID)
	if err != nil {
		return es.Event{}, es.Backendf("stored aggregate id: %v", err)
	}

	return es.Event{
		EventID:        eventID,
		TenantID:       tenantID,
		AggregateID:    aggregateID,
		AggregateType:  item.AggregateType,
		SequenceNumber: item.SequenceNumber,
		EventType:      item.EventType,
		EventVersion:   item.EventVersion,
		OccurredAt:     item.OccurredAt,
		Payload:        item.Payload,
		Metadata:       item.Metadata,
	}, nil
}

func fromSnapshotDB(item SnapshotDB) (es.Snapshot, error) {
	tenantID, err := es.ParseTenantID(item.TenantID)
	if err != nil {
		return es.Snapshot{}, es.Backendf("stored tenant id: %v", err)
	}
	aggregateID, err := es.ParseAggregateID(item.AggregateID)
	if err != nil {
		return es.Snapshot{}, es.Backendf("stored aggregate id: %v", err)
	}

	return es.Snapshot{
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		AggregateType: item.AggregateType,
		Version:       item.Version,
		State:         item.State,
		CreatedAt:     item.CreatedAt,
	}, nil
}
