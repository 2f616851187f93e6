package store

import (
	"encoding/json"
	"fmt"
)

// Op is one staged write. Append ops add Value to the list under Key.
type Op struct {
	Key    string
	Value  []byte
	Append bool
}

// Batch collects writes that Store.Apply commits all or nothing
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, Op{Key: key, Value: cloneBytes(value)})
}

func (b *Batch) Append(listKey string, value []byte) {
	b.ops = append(b.ops, Op{Key: listKey, Value: cloneBytes(value), Append: true})
}

// PutJSON stages v under key
func (b *Batch) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	b.Put(key, data)
	return nil
}

// AppendJSON stages v at the end of the list under listKey
func (b *Batch) AppendJSON(listKey string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s item: %w", listKey, err)
	}
	b.Append(listKey, data)
	return nil
}

// Ops returns the staged writes in order
func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}
