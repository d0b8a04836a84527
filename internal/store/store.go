// Package store implements the persistent tier: a disk-backed cache of
// section snapshots, resources and book metadata, addressed by the same
// (bookId, index) / (bookId, path) keys as the memory tier.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/folio/internal/domain"
)

// Bucket names
var (
	bucketSections  = []byte("sections")
	bucketResources = []byte("resources")
	bucketMetadata  = []byte("metadata")
	bucketAccess    = []byte("access")
)

const (
	dbFileName = "folio.db"

	// Hot-layer sizing for resource blobs. freecache needs a floor to be
	// useful at all.
	minHotLayerMB = 8

	// Resource blobs larger than this skip the hot layer; freecache
	// rejects entries near 1/1024 of its size anyway.
	maxHotEntryBytes = 512 * 1024
)

// Store implements domain.PersistentTier on BoltDB. Sections and metadata
// are promoted into an in-process map on read; resource blobs go through a
// freecache byte cache so repeated materializations of image-heavy books
// skip disk entirely.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memo and expiry

	// Promote-on-read cache for section/metadata JSON
	memo map[string][]byte

	// RAM cache for resource blobs
	hot *freecache.Cache

	expiry time.Duration // 0 = entries never expire
	now    func() time.Time

	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithHotLayerMB sizes the resource blob RAM cache.
func WithHotLayerMB(mb int) Option {
	return func(s *Store) {
		if mb < minHotLayerMB {
			mb = minHotLayerMB
		}
		s.hot = freecache.NewCache(mb * 1024 * 1024)
	}
}

// New opens (or creates) the store under dir. An empty dir selects
// memory-only mode: everything works, nothing persists.
func New(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		memo:   make(map[string][]byte),
		hot:    freecache.NewCache(minHotLayerMB * 1024 * 1024),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSections, bucketResources, bucketMetadata, bucketAccess} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetExpiry configures the age in days after which unread entries are
// removed by CleanupExpired. 0 disables expiry.
func (s *Store) SetExpiry(days int) {
	s.mu.Lock()
	s.expiry = time.Duration(days) * 24 * time.Hour
	s.mu.Unlock()
}

func sectionStoreKey(bookID string, index int) string {
	// Zero-padded so cursor order matches spine order.
	return fmt.Sprintf("%s:%06d", bookID, index)
}

func resourceStoreKey(bookID, path string) string {
	return bookID + ":" + path
}

// === Generic helpers (memo map over BoltDB) ===

func (s *Store) get(bucket []byte, key string, dest interface{}) bool {
	memoKey := string(bucket) + ":" + key

	s.mu.RLock()
	if data, ok := s.memo[memoKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return false
	}

	// Promote to the memo map
	s.mu.Lock()
	s.memo[memoKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *Store) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.memo[string(bucket)+":"+key] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *Store) deletePrefix(bucket []byte, prefix string) {
	s.mu.Lock()
	memoPrefix := string(bucket) + ":" + prefix
	for k := range s.memo {
		if strings.HasPrefix(k, memoPrefix) {
			delete(s.memo, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// touch records the access time used by CleanupExpired.
func (s *Store) touch(bucket []byte, key string) {
	stamp := s.now().UnixNano()
	_ = s.set(bucketAccess, string(bucket)+":"+key, stamp)
}

// === Sections ===

func (s *Store) LoadSection(ctx context.Context, bookID string, index int) (*domain.SectionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap domain.SectionSnapshot
	key := sectionStoreKey(bookID, index)
	if !s.get(bucketSections, key, &snap) {
		return nil, domain.ErrNotFound
	}
	s.touch(bucketSections, key)
	return &snap, nil
}

func (s *Store) SaveSection(ctx context.Context, snap *domain.SectionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := sectionStoreKey(snap.BookID, snap.Index)
	if err := s.set(bucketSections, key, snap); err != nil {
		return err
	}
	s.touch(bucketSections, key)
	return nil
}

// === Resources ===

func (s *Store) LoadResource(ctx context.Context, bookID, path string) (*domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := resourceStoreKey(bookID, path)

	if data, err := s.hot.Get([]byte(key)); err == nil {
		var res domain.Resource
		if json.Unmarshal(data, &res) == nil {
			// A hot hit is still a use; without the stamp CleanupExpired
			// would age out a resource that is read constantly.
			s.touch(bucketResources, key)
			return &res, nil
		}
	}

	var res domain.Resource
	if !s.get(bucketResources, key, &res) {
		return nil, domain.ErrNotFound
	}
	s.touch(bucketResources, key)
	s.promoteResource(key, &res)
	return &res, nil
}

func (s *Store) SaveResource(ctx context.Context, res *domain.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := resourceStoreKey(res.BookID, res.Path)
	if err := s.setResource(key, res); err != nil {
		return err
	}
	s.touch(bucketResources, key)
	s.promoteResource(key, res)
	return nil
}

// setResource writes the blob to BoltDB without touching the memo map;
// resource bytes are cached in the hot layer instead.
func (s *Store) setResource(key string, res *domain.Resource) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if s.db == nil {
		s.mu.Lock()
		s.memo[string(bucketResources)+":"+key] = data
		s.mu.Unlock()
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).Put([]byte(key), data)
	})
}

func (s *Store) promoteResource(key string, res *domain.Resource) {
	if len(res.Data) > maxHotEntryBytes {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.hot.Set([]byte(key), data, 0); err != nil {
		s.logger.Debug("hot layer rejected resource", "key", key, "error", err)
	}
}

// === Metadata ===

func (s *Store) LoadMetadata(ctx context.Context, bookID string) (*domain.StoredMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var meta domain.StoredMetadata
	if !s.get(bucketMetadata, bookID, &meta) {
		return nil, domain.ErrNotFound
	}
	s.touch(bucketMetadata, bookID)
	return &meta, nil
}

func (s *Store) SaveMetadata(ctx context.Context, bookID string, meta *domain.StoredMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.set(bucketMetadata, bookID, meta); err != nil {
		return err
	}
	s.touch(bucketMetadata, bookID)
	return nil
}

// === Invalidation ===

// ClearBook wipes every section, resource and metadata record for bookID.
func (s *Store) ClearBook(ctx context.Context, bookID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := bookID + ":"
	s.deletePrefix(bucketSections, prefix)
	s.deletePrefix(bucketResources, prefix)
	s.deletePrefix(bucketMetadata, bookID)
	s.deletePrefix(bucketAccess, string(bucketSections)+":"+prefix)
	s.deletePrefix(bucketAccess, string(bucketResources)+":"+prefix)
	s.deletePrefix(bucketAccess, string(bucketMetadata)+":"+bookID)
	// The hot layer has no prefix scan; dropping it wholesale is cheap.
	s.hot.Clear()
	return nil
}

// CleanupExpired removes entries whose last recorded access is older than
// the configured expiry window. Returns the number of entries removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	expiry := s.expiry
	s.mu.RUnlock()
	if expiry <= 0 || s.db == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-expiry).UnixNano()

	type staleKey struct {
		bucket []byte
		key    string
	}
	var stale []staleKey

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccess)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stamp int64
			if json.Unmarshal(v, &stamp) != nil || stamp >= cutoff {
				return nil
			}
			for _, bucket := range [][]byte{bucketSections, bucketResources, bucketMetadata} {
				prefix := string(bucket) + ":"
				if strings.HasPrefix(string(k), prefix) {
					stale = append(stale, staleKey{bucket: bucket, key: string(k[len(prefix):])})
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sk := range stale {
		s.mu.Lock()
		delete(s.memo, string(sk.bucket)+":"+sk.key)
		s.mu.Unlock()
		err := s.db.Update(func(tx *bolt.Tx) error {
			if err := tx.Bucket(sk.bucket).Delete([]byte(sk.key)); err != nil {
				return err
			}
			return tx.Bucket(bucketAccess).Delete([]byte(string(sk.bucket) + ":" + sk.key))
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired cache entries removed", "count", removed)
	}
	return removed, nil
}

// CacheStats reports entry counts and total stored bytes.
func (s *Store) CacheStats(ctx context.Context) (domain.TierStats, error) {
	var stats domain.TierStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if s.db == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for k, v := range s.memo {
			switch {
			case strings.HasPrefix(k, string(bucketSections)+":"):
				stats.SectionCount++
			case strings.HasPrefix(k, string(bucketResources)+":"):
				stats.ResourceCount++
			case strings.HasPrefix(k, string(bucketMetadata)+":"):
				stats.MetadataCount++
			default:
				continue
			}
			stats.TotalSizeBytes += int64(len(v))
		}
		return stats, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		count := func(bucket []byte, n *int) error {
			b := tx.Bucket(bucket)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				*n++
				stats.TotalSizeBytes += int64(len(v))
				return nil
			})
		}
		if err := count(bucketSections, &stats.SectionCount); err != nil {
			return err
		}
		if err := count(bucketResources, &stats.ResourceCount); err != nil {
			return err
		}
		return count(bucketMetadata, &stats.MetadataCount)
	})
	return stats, err
}

// Ensure interface conformance.
var _ domain.PersistentTier = (*Store)(nil)
