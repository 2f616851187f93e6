package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Store is the durable map/list collaborator behind the ledgers.
// Implementations must give read-your-writes on a single key.
type Store interface {
	// Get returns the value for key; found is false if the key was never written.
	Get(key string) (value []byte, found bool, err error)
	Put(key string, value []byte) error
	// Append adds value to the end of the list stored under listKey.
	Append(listKey string, value []byte) error
	// List returns every item of the list in append order.
	List(listKey string) ([][]byte, error)
	// Keys enumerates value keys (not list keys) starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
	// Apply commits every op of b, or none of them.
	Apply(b *Batch) error
	Close() error
}

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store closed")

// GetJSON loads key into v. found is false when the key does not exist.
func GetJSON(s Store, key string, v any) (bool, error) {
	data, found, err := s.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PutJSON stores v under key
func PutJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.Put(key, data)
}

// AppendJSON appends v to the list under listKey
func AppendJSON(s Store, listKey string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s item: %w", listKey, err)
	}
	return s.Append(listKey, data)
}

// ListJSON decodes every item of the list, stopping at the first bad item
func ListJSON[T any](s Store, listKey string) ([]T, error) {
	items, err := s.List(listKey)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s item: %w", listKey, err)
		}
		out = append(out, v)
	}
	return out, nil
}
