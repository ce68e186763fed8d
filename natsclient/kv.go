package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/smoothbus/errors"
)

// ErrKVKeyNotFound is returned for keys that were never written or were deleted.
var ErrKVKeyNotFound = stderrors.New("kv: key not found")

// CreateKeyValueBucket opens the bucket named in cfg, creating it when it
// does not exist yet.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if !c.breaker.allow() {
		return nil, ErrCircuitOpen
	}
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}
	if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		c.metrics.recordError("kv_open")
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "open "+cfg.Bucket)
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if isAlreadyExistsError(err) {
		// another instance created it first
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		c.metrics.recordError("kv_create")
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create "+cfg.Bucket)
	}

	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	return strings.Contains(err.Error(), "already in use")
}

// KVEntry is a value with the revision it was written at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore reads and writes one bucket with a per-call timeout.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// NewKVStore wraps bucket. A zero timeout leaves the caller's deadline in charge.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, timeout time.Duration) *KVStore {
	return &KVStore{
		bucket:  bucket,
		timeout: timeout,
		logger:  c.logger.With("bucket", bucket.Bucket()),
	}
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

func (kv *KVStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.timeout > 0 {
		return context.WithTimeout(ctx, kv.timeout)
	}
	return ctx, func() {}
}

// Get returns ErrKVKeyNotFound for missing or deleted keys.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes value unconditionally and returns the new revision.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Delete removes key. Deleting a missing key returns ErrKVKeyNotFound.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+key)
	}
	return nil
}

// IsKVNotFoundError reports whether err means the key has no value.
func IsKVNotFoundError(err error) bool {
	return stderrors.Is(err, ErrKVKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted)
}
