package ack

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const defaultQueueSize = 10000

var (
	outboxBucket = []byte("audit-outbox")

	ErrQueueEmpty = errors.New("ack queue empty")
	ErrQueueFull  = errors.New("ack queue full")
)

// Queue persists audit records until the broker accepts them.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (uint64, error)
	Peek(ctx context.Context) (uint64, Payload, error)
	Delete(ctx context.Context, id uint64) error
	Len(ctx context.Context) (int, error)
	Notify() <-chan struct{}
	Close() error
}

// BoltQueue is a FIFO outbox in a single bbolt bucket. Keys are the
// bucket's big-endian sequence numbers, so cursor order is insertion order.
type BoltQueue struct {
	db      *bolt.DB
	limit   int
	depth   atomic.Int64
	pending chan struct{}
}

// QueueOptions configure BoltQueue.
type QueueOptions struct {
	Path    string
	MaxSize int
}

// OpenQueue opens the outbox at opts.Path, creating it and its directory
// when missing. Records left by a previous run are kept.
func OpenQueue(opts QueueOptions) (*BoltQueue, error) {
	if opts.Path == "" {
		return nil, errors.New("ack queue: path required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("ack queue: create dir: %w", err)
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("ack queue: open %s: %w", opts.Path, err)
	}

	q := &BoltQueue{db: db, limit: opts.MaxSize, pending: make(chan struct{}, 1)}
	if q.limit <= 0 {
		q.limit = defaultQueueSize
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(outboxBucket)
		if err != nil {
			return err
		}
		q.depth.Store(int64(b.Stats().KeyN))
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ack queue: init: %w", err)
	}
	return q, nil
}

func seqKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Enqueue appends payload and wakes the drainer. It fails with ErrQueueFull
// once the outbox holds MaxSize records.
func (q *BoltQueue) Enqueue(_ context.Context, payload Payload) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("ack queue: encode %s: %w", payload.ID, err)
	}
	var id uint64
	err = q.db.Update(func(tx *bolt.Tx) error {
		if q.depth.Load() >= int64(q.limit) {
			return ErrQueueFull
		}
		b := tx.Bucket(outboxBucket)
		if id, err = b.NextSequence(); err != nil {
			return err
		}
		return b.Put(seqKey(id), data)
	})
	if err != nil {
		return 0, err
	}
	q.depth.Add(1)
	select {
	case q.pending <- struct{}{}:
	default:
	}
	return id, nil
}

// Peek returns the oldest record without removing it.
func (q *BoltQueue) Peek(_ context.Context) (uint64, Payload, error) {
	var (
		id      uint64
		payload Payload
	)
	err := q.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(outboxBucket).Cursor().First()
		if k == nil {
			return ErrQueueEmpty
		}
		id = binary.BigEndian.Uint64(k)
		return json.Unmarshal(v, &payload)
	})
	if err != nil {
		return 0, Payload{}, err
	}
	return id, payload, nil
}

// Delete removes a delivered record.
func (q *BoltQueue) Delete(_ context.Context, id uint64) error {
	key := seqKey(id)
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(outboxBucket)
		if b.Get(key) == nil {
			return fmt.Errorf("ack queue: record %d not found", id)
		}
		return b.Delete(key)
	})
	if err == nil {
		q.depth.Add(-1)
	}
	return err
}

func (q *BoltQueue) Len(context.Context) (int, error) {
	return int(q.depth.Load()), nil
}

// Notify fires after every successful Enqueue.
func (q *BoltQueue) Notify() <-chan struct{} {
	return q.pending
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}
