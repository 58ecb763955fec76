package photos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/option"
)

// DefaultKind is the Datastore kind photos are stored under.
const DefaultKind = "ProfilePhoto"

type photoEntity struct {
	Data     []byte    `datastore:"data,noindex"`
	Size     int       `datastore:"size"`
	StoredAt time.Time `datastore:"storedAt"`
}

// DatastoreStore keeps one entity per photo, named by page id.
type DatastoreStore struct {
	client *datastore.Client
	kind   string
}

// NewDatastoreStore connects to projectID. Pass option.WithEndpoint to use an emulator.
func NewDatastoreStore(ctx context.Context, projectID, kind string, opts ...option.ClientOption) (*DatastoreStore, error) {
	client, err := datastore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	if kind == "" {
		kind = DefaultKind
	}
	return &DatastoreStore{client: client, kind: kind}, nil
}

func (s *DatastoreStore) photoKey(key string) *datastore.Key {
	return datastore.NameKey(s.kind, key, nil)
}

func (s *DatastoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e photoEntity
	err := s.client.Get(ctx, s.photoKey(key), &e)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo %s: %w", key, err)
	}
	return e.Data, nil
}

func (s *DatastoreStore) Put(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	e := photoEntity{Data: data, Size: len(data), StoredAt: time.Now().UTC()}
	if _, err := s.client.Put(ctx, s.photoKey(key), &e); err != nil {
		return fmt.Errorf("failed to put photo %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying datastore client.
func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

var _ Store = (*DatastoreStore)(nil)
