package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
)

// keyspaces: v/<key> values, l/<listKey>\x00<8-byte seq> list items, n/<listKey> list length
const (
	valuePrefix   = "v/"
	itemPrefix    = "l/"
	counterPrefix = "n/"
)

// PebbleStore is a durable Store backed by Pebble
type PebbleStore struct {
	db *pebble.DB
	// serializes batches with list appends so sequence numbers are unique
	appendMu sync.Mutex
}

// OpenPebble opens or creates a Pebble database at path
func OpenPebble(path string) (*PebbleStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, bool, error) {
	return s.get([]byte(valuePrefix + key))
}

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	defer closer.Close()
	return cloneBytes(val), true, nil
}

func (s *PebbleStore) Put(key string, value []byte) error {
	if err := s.db.Set([]byte(valuePrefix+key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

func (s *PebbleStore) Append(listKey string, value []byte) error {
	b := NewBatch()
	b.Append(listKey, value)
	if err := s.Apply(b); err != nil {
		return fmt.Errorf("failed to append list item: %w", err)
	}
	return nil
}

// Apply stages b into one pebble batch and commits it with a sync
func (s *PebbleStore) Apply(b *Batch) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	counters := make(map[string]uint64)
	for _, op := range b.Ops() {
		if !op.Append {
			if err := batch.Set([]byte(valuePrefix+op.Key), op.Value, nil); err != nil {
				return fmt.Errorf("failed to stage key: %w", err)
			}
			continue
		}
		seq, ok := counters[op.Key]
		if !ok {
			raw, found, err := s.get([]byte(counterPrefix + op.Key))
			if err != nil {
				return err
			}
			if found {
				seq = binary.BigEndian.Uint64(raw)
			}
		}
		if err := batch.Set(itemKey(op.Key, seq), op.Value, nil); err != nil {
			return fmt.Errorf("failed to stage list item: %w", err)
		}
		counters[op.Key] = seq + 1
	}
	for listKey, seq := range counters {
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], seq)
		if err := batch.Set([]byte(counterPrefix+listKey), next[:], nil); err != nil {
			return fmt.Errorf("failed to stage list counter: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) List(listKey string) ([][]byte, error) {
	prefix := []byte(itemPrefix + listKey + "\x00")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var items [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		items = append(items, cloneBytes(iter.Value()))
	}
	return items, iter.Error()
}

func (s *PebbleStore) Keys(prefix string) ([]string, error) {
	lower := []byte(valuePrefix + prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(valuePrefix):]))
	}
	return keys, iter.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func itemKey(listKey string, seq uint64) []byte {
	key := make([]byte, 0, len(itemPrefix)+len(listKey)+1+8)
	key = append(key, itemPrefix...)
	key = append(key, listKey...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, seq)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}

var _ Store = (*PebbleStore)(nil)
