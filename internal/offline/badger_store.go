package offline

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the disk-backed Store. Keys sort by priority tier and
// enqueue time, so a plain iteration yields replay order.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// key format: priority rank : enqueue nanos : action id
func actionKey(a *Action) []byte {
	return []byte(fmt.Sprintf("%04d:%020d:%s", a.Priority.rank(), a.EnqueuedAt.UnixNano(), a.ID))
}

func (s *BadgerStore) Save(action *Action) error {
	key := actionKey(action)
	val, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) Delete(action *Action) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(actionKey(action))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) Load() ([]*Action, error) {
	actions := make([]*Action, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var a Action
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &a)
			})
			if err != nil {
				return err
			}
			actions = append(actions, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
