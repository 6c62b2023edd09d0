package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"kb/internal/domain"
	"kb/internal/port"
)

var (
	bucketNamespaces = []byte("namespaces")
	bucketMeta       = []byte("meta")
)

// BoltStore persists namespace definitions in a bbolt file. Vectors are
// never written to disk.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path and brings its
// schema up to date.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketNamespaces, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// namespaceRecord is the on-disk form of a namespace.
type namespaceRecord struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name,omitempty"`
	Description string                     `json:"description,omitempty"`
	Config      domain.KnowledgeBaseConfig `json:"config"`
	CreatedAt   int64                      `json:"created_at"`
	UpdatedAt   int64                      `json:"updated_at"`
}

func toRecord(ns domain.Namespace) namespaceRecord {
	return namespaceRecord{
		ID:          ns.ID,
		Name:        ns.Name,
		Description: ns.Description,
		Config:      ns.Config,
		CreatedAt:   ns.CreatedAt.UnixNano(),
		UpdatedAt:   ns.UpdatedAt.UnixNano(),
	}
}

func (r namespaceRecord) namespace() domain.Namespace {
	return domain.Namespace{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Config:      r.Config,
		CreatedAt:   unixNano(r.CreatedAt),
		UpdatedAt:   unixNano(r.UpdatedAt),
	}
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n)
}

func (s *BoltStore) SaveNamespace(ns domain.Namespace) error {
	data, err := json.Marshal(toRecord(ns))
	if err != nil {
		return fmt.Errorf("encode namespace %s: %w", ns.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNamespaces).Put([]byte(ns.ID), data)
	})
}

func (s *BoltStore) DeleteNamespace(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNamespaces).Delete([]byte(id))
	})
}

// LoadNamespaces returns every stored namespace in key order.
func (s *BoltStore) LoadNamespaces() ([]domain.Namespace, error) {
	var out []domain.Namespace
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var rec namespaceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode namespace %s: %w", k, err)
			}
			out = append(out, rec.namespace())
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ port.NamespaceRepository = (*BoltStore)(nil)
