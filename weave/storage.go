package weave

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
)

// Storage persists ledger records by key.
type Storage interface {
	Save(key string, blob []byte) error
	Load(key string) ([]byte, bool, error)
	Delete(key string) error
	// ListKeysPrefix returns all keys in the store that begin with the given prefix, sorted.
	ListKeysPrefix(prefix string) ([]string, error)
	Clear() error
	Close() error
}

// KeyPrefixStorage wraps another Storage, prepending a fixed prefix to all keys.
// Its ListKeysPrefix method strips the prefix before returning.
func KeyPrefixStorage(s Storage, prefix string) Storage {
	if prefix == "" {
		return s
	}
	return &prefixStorage{
		store:  s,
		prefix: prefix + ";",
	}
}

type prefixStorage struct {
	store  Storage
	prefix string
}

func (p *prefixStorage) Save(key string, blob []byte) error {
	return p.store.Save(p.prefix+key, blob)
}

func (p *prefixStorage) Load(key string) ([]byte, bool, error) {
	return p.store.Load(p.prefix + key)
}

func (p *prefixStorage) Delete(key string) error {
	return p.store.Delete(p.prefix + key)
}

func (p *prefixStorage) ListKeysPrefix(prefix string) ([]string, error) {
	underlying, err := p.store.ListKeysPrefix(p.prefix + prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range underlying {
		underlying[i] = strings.TrimPrefix(k, p.prefix)
	}
	return underlying, nil
}

func (p *prefixStorage) Clear() error {
	keys, err := p.ListKeysPrefix("")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op, the wrapped store is owned by the caller.
func (p *prefixStorage) Close() error {
	return nil
}

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStorage returns an in-memory Storage implementation.
func NewMemStorage() Storage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Save(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = slices.Clone(blob)
	return nil
}

func (m *memStorage) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(blob), true, nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memStorage) ListKeysPrefix(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.data)
	return nil
}

func (m *memStorage) Close() error {
	return nil // no resources to free
}

const badgerCompression = options.ZSTD
const badgerMetricsInterval = 60 * time.Second

type badgerStorage struct {
	db   *badger.DB
	done chan struct{}
}

// NewBadgerStorage opens a Badger backed Storage at path, creating it if needed. When the logger has debug enabled
// the block and index cache metrics are logged periodically.
func NewBadgerStorage(path string, maxMemMB int, logger *zap.Logger) (Storage, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir failed: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	debug := logger.Core().Enabled(zap.DebugLevel)

	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(maxMemMB/4), 8, 64) << 20
	opts := badger.DefaultOptions(path).
		WithCompression(badgerCompression).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithBlockCacheSize(clamp(int64(maxMemMB/8), 2, 128) << 20). // required with compression enabled
		WithIndexCacheSize(clamp(int64(maxMemMB/4), 16, 128) << 20).
		WithLoggingLevel(badger.ERROR).
		WithMetricsEnabled(debug)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger db failed: %w", err)
	}
	s := &badgerStorage{db: db, done: make(chan struct{})}
	if debug {
		go s.logMetrics(logger.Named("ledger"))
	}
	return s, nil
}

func (b *badgerStorage) logMetrics(logger *zap.Logger) {
	ticker := time.NewTicker(badgerMetricsInterval)
	defer ticker.Stop()
	logCache := func(name string, metrics *ristretto.Metrics) {
		if metrics == nil {
			return
		} else if metrics.Hits() != 0 || metrics.Misses() != 0 {
			logger.Debug("cache metrics", zap.String("cache", name),
				zap.Uint64("hits", metrics.Hits()), zap.Uint64("misses", metrics.Misses()),
				zap.Float64("ratio", metrics.Ratio()))
		}
		metrics.Clear()
	}
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			logCache("block", b.db.BlockCacheMetrics())
			logCache("index", b.db.IndexCacheMetrics())
		}
	}
}

func (b *badgerStorage) Save(key string, blob []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (b *badgerStorage) Load(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *badgerStorage) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerStorage) ListKeysPrefix(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

func (b *badgerStorage) Clear() error {
	return b.db.DropAll()
}

func (b *badgerStorage) Close() error {
	close(b.done)
	return b.db.Close()
}
