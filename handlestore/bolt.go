package handlestore

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/TEENet-io/covenant-go/covenant"
)

var bucketHandles = []byte("handles_by_id")

// BoltStore keeps handles in a single bbolt bucket keyed by id.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHandles)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Save(h *covenant.Handle) error {
	body, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHandles).Put([]byte(h.ID()), body)
	})
}

func (s *BoltStore) Load(id string) (*covenant.Handle, error) {
	var h *covenant.Handle
	err := s.db.View(func(tx *bolt.Tx) error {
		body := tx.Bucket(bucketHandles).Get([]byte(id))
		if body == nil {
			return fmt.Errorf("%w: %s", ErrHandleNotFound, id)
		}
		// body is only valid inside the tx; DecodeHandle copies it
		var err error
		h, err = covenant.DecodeHandle(body)
		return err
	})
	return h, err
}

func (s *BoltStore) List() ([]*covenant.Handle, error) {
	var handles []*covenant.Handle
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHandles).ForEach(func(k, v []byte) error {
			h, err := covenant.DecodeHandle(v)
			if err != nil {
				return fmt.Errorf("handle %s: %w", k, err)
			}
			handles = append(handles, h)
			return nil
		})
	})
	return handles, err
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
