package repository

import (
	"ChatRelay/entity"
	"ChatRelay/internal/config"
	"ChatRelay/internal/lib/sl"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB reads HTTP sessions written by a connect-mongo style session store:
// documents {_id: sid, expires: date, session: string | document}.
type MongoDB struct {
	clientOptions *options.ClientOptions
	database      string
	collection    string
	log           *slog.Logger

	mu     sync.Mutex
	client *mongo.Client
}

func NewMongoClient(conf *config.Config, logger *slog.Logger) *MongoDB {
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri).SetConnectTimeout(10 * time.Second)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	return &MongoDB{
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
		collection:    conf.Mongo.Collection,
		log:           logger.With(sl.Module("mongodb")),
	}
}

func (m *MongoDB) connect(ctx context.Context) (*mongo.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	connection, err := mongo.Connect(ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	m.client = connection
	return connection, nil
}

func (m *MongoDB) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return
	}
	if err := m.client.Disconnect(ctx); err != nil {
		m.log.Warn("mongodb disconnect", sl.Err(err))
	}
	m.client = nil
}

type mongoSession struct {
	ID      string        `bson:"_id"`
	Expires time.Time     `bson:"expires"`
	Session bson.RawValue `bson:"session"`
}

func (m *MongoDB) LookupSession(ctx context.Context, sid string) (*entity.HttpSession, error) {
	connection, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	collection := connection.Database(m.database).Collection(m.collection)
	var doc mongoSession
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: sid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find session: %w", err)
	}

	data, err := sessionPayload(doc.Session)
	if err != nil {
		return nil, err
	}
	return &entity.HttpSession{
		SID:     doc.ID,
		Data:    data,
		Expires: doc.Expires,
	}, nil
}

// sessionPayload returns the session as JSON whether it was stored stringified or as a document.
func sessionPayload(v bson.RawValue) ([]byte, error) {
	if s, ok := v.StringValueOK(); ok {
		return []byte(s), nil
	}
	if doc, ok := v.DocumentOK(); ok {
		data, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, fmt.Errorf("mongodb session payload: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("mongodb session payload has type %s", v.Type)
}
