package paramrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/natsclient"
)

// MultiplierKey is the KV key the multiplier is stored under.
const MultiplierKey = "multiplier"

// MultiplierStore persists the installed multiplier across restarts.
type MultiplierStore interface {
	// Load returns the stored vector; ok is false when nothing was stored.
	Load(ctx context.Context) (values []float64, ok bool, err error)
	Save(ctx context.Context, values []float64) error
}

// KeyValue is the part of natsclient.KVStore the store needs.
type KeyValue interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVMultiplierStore keeps the multiplier as a JSON array in a NATS KV bucket.
type KVMultiplierStore struct {
	kv KeyValue
}

// NewKVMultiplierStore creates a store over kv.
func NewKVMultiplierStore(kv KeyValue) *KVMultiplierStore {
	return &KVMultiplierStore{kv: kv}
}

// Load implements MultiplierStore.
func (s *KVMultiplierStore) Load(ctx context.Context) ([]float64, bool, error) {
	entry, err := s.kv.Get(ctx, MultiplierKey)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "KVMultiplierStore", "Load", "get "+MultiplierKey)
	}

	values, err := parseVector(entry.Value)
	if err != nil {
		return nil, false, errors.WrapInvalid(err, "KVMultiplierStore", "Load",
			fmt.Sprintf("decode revision %d", entry.Revision))
	}
	return values, true, nil
}

// Save implements MultiplierStore.
func (s *KVMultiplierStore) Save(ctx context.Context, values []float64) error {
	if values == nil {
		values = []float64{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return errors.WrapInvalid(err, "KVMultiplierStore", "Save", "encode multiplier")
	}
	if _, err := s.kv.Put(ctx, MultiplierKey, data); err != nil {
		return errors.WrapTransient(err, "KVMultiplierStore", "Save", "put "+MultiplierKey)
	}
	return nil
}
