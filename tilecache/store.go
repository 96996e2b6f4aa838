package tilecache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// Record is one stored dataset.
type Record struct {
	Data      []gameworld.Tile `msgpack:"d"`
	Timestamp time.Time        `msgpack:"t"`
	Version   string           `msgpack:"v"`
}

// Store is durable key/record storage. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the record under key. A missing key is (Record{}, false, nil).
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var bucketName = []byte("biomes")

// ErrStoreClosed is returned by a BoltStore after Close.
var ErrStoreClosed = errors.New("tile store closed")

// BoltStore keeps records in a single bbolt file. The file is opened on
// first use. When an operation fails in a way that leaves the handle
// unusable the handle is dropped, and the next operation opens the file
// again.
type BoltStore struct {
	path string
	opts *bolt.Options

	mu     sync.Mutex
	db     *bolt.DB
	opens  int
	closed bool
}

func NewBoltStore(path string) *BoltStore {
	return &BoltStore{
		path: path,
		opts: &bolt.Options{Timeout: time.Second},
	}
}

func (s *BoltStore) handle() (*bolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db != nil {
		return s.db, nil
	}
	db, err := bolt.Open(s.path, 0600, s.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening tile store %s", s.path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating bucket in %s", s.path)
	}
	s.db = db
	s.opens++
	glog.V(2).Infof("tilecache: opened %s", s.path)
	return db, nil
}

// invalidates reports whether err means the handle must be reopened.
func invalidates(err error) bool {
	return errors.Is(err, bolt.ErrDatabaseNotOpen) ||
		errors.Is(err, bolt.ErrTxClosed) ||
		errors.Is(err, os.ErrClosed)
}

func (s *BoltStore) check(db *bolt.DB, err error) error {
	if err == nil || !invalidates(err) {
		return err
	}
	s.mu.Lock()
	if s.db == db {
		glog.Warningf("tilecache: dropping handle of %s: %v", s.path, err)
		s.db = nil
		db.Close()
	}
	s.mu.Unlock()
	return err
}

func (s *BoltStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	db, err := s.handle()
	if err != nil {
		return Record{}, false, err
	}
	var (
		rec   Record
		found bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		// v is only valid inside the transaction.
		return msgpack.Unmarshal(v, &rec)
	})
	if err = s.check(db, err); err != nil {
		return Record{}, false, errors.Wrapf(err, "reading %q", key)
	}
	return rec, found, nil
}

func (s *BoltStore) Put(ctx context.Context, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), v)
	})
	return errors.Wrapf(s.check(db, err), "writing %q", key)
}

// Opens counts how many times the file has been opened.
func (s *BoltStore) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}
