package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kalambet/threadmark/internal/domain"
)

const (
	mongoThreads = "threads"
	mongoUsers   = "users"

	// sortKey is a native date copy of updatedAt used for ordering.
	sortKey = "_updatedAt"
)

// Mongo stores each thread as one document keyed by its id.
type Mongo struct {
	client  *mongo.Client
	threads *mongo.Collection
	users   *mongo.Collection
}

type mongoUser struct {
	UID          string    `bson:"_id"`
	Email        string    `bson:"email"`
	DisplayName  string    `bson:"displayName"`
	PasswordHash string    `bson:"passwordHash"`
	Disabled     bool      `bson:"disabled"`
	CreatedAt    time.Time `bson:"createdAt"`
}

// OpenMongo connects to uri and prepares indexes in database dbName.
func OpenMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	m := &Mongo{client: client, threads: db.Collection(mongoThreads), users: db.Collection(mongoUsers)}

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.threads, mongo.IndexModel{Keys: bson.D{{Key: sortKey, Value: -1}}}},
		{m.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}
	return m, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// toDocument converts a thread to BSON through its JSON form, so stored
// documents carry the same field names as every other engine.
func toDocument(t domain.Thread) (bson.M, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding thread: %w", err)
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return nil, fmt.Errorf("converting thread: %w", err)
	}
	doc["_id"] = t.ID
	doc[sortKey] = t.UpdatedAt.Time
	return doc, nil
}

func fromDocument(doc bson.M) (domain.Thread, error) {
	delete(doc, "_id")
	delete(doc, sortKey)
	b, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("converting thread: %w", err)
	}
	return decodeThread(string(b))
}

func (m *Mongo) Put(ctx context.Context, t domain.Thread) error {
	doc, err := toDocument(t)
	if err != nil {
		return err
	}
	_, err = m.threads.ReplaceOne(ctx, bson.M{"_id": t.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) Get(ctx context.Context, id string) (domain.Thread, error) {
	var doc bson.M
	err := m.threads.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, err
	}
	return fromDocument(doc)
}

func (m *Mongo) List(ctx context.Context) ([]domain.Thread, error) {
	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.threads.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	threads := []domain.Thread{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		t, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, cursor.Err()
}

// Update is last-write-wins: the replace is not conditioned on the
// document being unchanged since it was read.
func (m *Mongo) Update(ctx context.Context, id string, fn func(*domain.Thread) error) (domain.Thread, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return domain.Thread{}, err
	}
	if err := fn(&t); err != nil {
		return domain.Thread{}, err
	}
	t.ID = id

	doc, err := toDocument(t)
	if err != nil {
		return domain.Thread{}, err
	}
	res, err := m.threads.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return domain.Thread{}, err
	}
	if res.MatchedCount == 0 {
		return domain.Thread{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *Mongo) Delete(ctx context.Context, id string) error {
	res, err := m.threads.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *Mongo) CreateUser(ctx context.Context, u User) error {
	_, err := m.users.InsertOne(ctx, mongoUser{
		UID:          u.UID,
		Email:        strings.ToLower(u.Email),
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
		Disabled:     u.Disabled,
		CreatedAt:    u.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	return err
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (User, error) {
	return m.findUser(ctx, bson.M{"email": strings.ToLower(email)})
}

func (m *Mongo) UserByID(ctx context.Context, uid string) (User, error) {
	return m.findUser(ctx, bson.M{"_id": uid})
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (User, error) {
	var mu mongoUser
	err := m.users.FindOne(ctx, filter).Decode(&mu)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, domain.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return User{
		UID:          mu.UID,
		Email:        mu.Email,
		DisplayName:  mu.DisplayName,
		PasswordHash: mu.PasswordHash,
		Disabled:     mu.Disabled,
		CreatedAt:    mu.CreatedAt,
	}, nil
}
