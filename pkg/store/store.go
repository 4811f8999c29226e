// Package store implements the durable local paper store on BoltDB.
// Papers are keyed by their external id; a second bucket associates ids
// with filter series so per-filter counts and backfill scans stay cheap.
// An empty path yields a memory-only store for tests and dry runs.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/paper"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketPapers  = []byte("papers")
	bucketFilters = []byte("filters")
)

// PaperStore implements paper.Store using BoltDB.
type PaperStore struct {
	db *bolt.DB // nil in memory-only mode

	// mu serializes read-modify-write sections and guards the memory
	// maps. BoltDB serializes its own writes, but upsert semantics
	// (preserve an existing embedding) need the read and the write to
	// be one critical section in memory mode too.
	mu      sync.RWMutex
	papers  map[string][]byte
	filters map[string]struct{} // "filterKey|id" membership keys
}

// New opens (or creates) a paper store at the given path. An empty path
// returns a memory-only store with no persistence.
func New(path string) (*PaperStore, error) {
	s := &PaperStore{
		papers:  make(map[string][]byte),
		filters: make(map[string]struct{}),
	}

	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPapers, bucketFilters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s.db = db
	return s, nil
}

// Close releases the underlying database.
func (s *PaperStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// filterMemberKey builds the filter-membership key for one paper.
// The separator cannot appear in filter keys or arXiv-style ids.
func filterMemberKey(filter paper.Filter, id string) string {
	return filter.Key() + "|" + id
}

// ExistsByID reports whether a paper with the given id is stored.
func (s *PaperStore) ExistsByID(id string) (bool, error) {
	s.mu.RLock()
	_, ok := s.papers[id]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}

	if s.db == nil {
		return false, nil
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketPapers).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("exists check: %w", err)
	}
	return exists, nil
}

// GetByID returns the stored paper, or ok=false when absent.
func (s *PaperStore) GetByID(id string) (paper.Paper, bool, error) {
	s.mu.RLock()
	data, ok := s.papers[id]
	s.mu.RUnlock()

	if !ok && s.db != nil {
		err := s.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketPapers).Get([]byte(id)); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
				ok = true
			}
			return nil
		})
		if err != nil {
			return paper.Paper{}, false, fmt.Errorf("get paper: %w", err)
		}
		if ok {
			// Promote to the memory map for hot-path reads.
			s.mu.Lock()
			s.papers[id] = data
			s.mu.Unlock()
		}
	}

	if !ok {
		return paper.Paper{}, false, nil
	}

	var p paper.Paper
	if err := json.Unmarshal(data, &p); err != nil {
		return paper.Paper{}, false, fmt.Errorf("decode paper %s: %w", id, err)
	}
	return p, true, nil
}

// Upsert stores a single paper keyed by id. When the incoming record
// carries no embedding but the stored one does, the stored embedding is
// preserved, so a concurrent fetch insert never wipes out backfill work.
func (s *PaperStore) Upsert(p paper.Paper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(p)
}

// upsertLocked merges p with any stored record and writes it. Caller
// holds mu.
func (s *PaperStore) upsertLocked(p paper.Paper) error {
	if existing, ok, err := s.getLocked(p.ID); err != nil {
		return err
	} else if ok {
		if len(p.Embedding) == 0 && len(existing.Embedding) > 0 {
			p.Embedding = existing.Embedding
		}
		if p.FetchedAt.IsZero() {
			p.FetchedAt = existing.FetchedAt
		}
	}
	if p.FetchedAt.IsZero() {
		p.FetchedAt = time.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode paper %s: %w", p.ID, err)
	}

	s.papers[p.ID] = data

	if s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPapers).Put([]byte(p.ID), data)
	})
}

// getLocked reads a paper without taking mu. Caller holds mu.
func (s *PaperStore) getLocked(id string) (paper.Paper, bool, error) {
	data, ok := s.papers[id]

	if !ok && s.db != nil {
		err := s.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketPapers).Get([]byte(id)); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
				ok = true
			}
			return nil
		})
		if err != nil {
			return paper.Paper{}, false, fmt.Errorf("get paper: %w", err)
		}
	}

	if !ok {
		return paper.Paper{}, false, nil
	}

	var p paper.Paper
	if err := json.Unmarshal(data, &p); err != nil {
		return paper.Paper{}, false, fmt.Errorf("decode paper %s: %w", id, err)
	}
	return p, true, nil
}

// BulkUpsert stores one fetched page for a filter series and returns
// how many papers were new to the store. Ids already present are never
// overwritten by a fetch result; they are only associated with the
// filter so CountForFilter reflects the series.
func (s *PaperStore) BulkUpsert(filter paper.Filter, papers []paper.Paper) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	inserted := 0
	newData := make(map[string][]byte, len(papers))
	memberKeys := make([]string, 0, len(papers))

	for _, p := range papers {
		if p.ID == "" {
			continue
		}
		memberKeys = append(memberKeys, filterMemberKey(filter, p.ID))

		if _, ok, err := s.getLocked(p.ID); err != nil {
			return inserted, err
		} else if ok {
			continue
		}

		if p.FetchedAt.IsZero() {
			p.FetchedAt = now
		}
		data, err := json.Marshal(p)
		if err != nil {
			return inserted, fmt.Errorf("encode paper %s: %w", p.ID, err)
		}
		newData[p.ID] = data
		inserted++
	}

	for id, data := range newData {
		s.papers[id] = data
	}
	for _, key := range memberKeys {
		s.filters[key] = struct{}{}
	}

	if s.db == nil {
		return inserted, nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPapers)
		for id, data := range newData {
			if err := pb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		fb := tx.Bucket(bucketFilters)
		for _, key := range memberKeys {
			if err := fb.Put([]byte(key), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return inserted, fmt.Errorf("bulk upsert: %w", err)
	}

	return inserted, nil
}

// idsForFilter returns the sorted ids associated with a filter.
func (s *PaperStore) idsForFilter(filter paper.Filter) ([]string, error) {
	prefix := filter.Key() + "|"
	seen := make(map[string]struct{})

	s.mu.RLock()
	for key := range s.filters {
		if strings.HasPrefix(key, prefix) {
			seen[key[len(prefix):]] = struct{}{}
		}
	}
	s.mu.RUnlock()

	if s.db != nil {
		err := s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(bucketFilters).Cursor()
			p := []byte(prefix)
			for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
				seen[string(k)[len(prefix):]] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan filter index: %w", err)
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CountForFilter returns how many stored papers belong to the filter.
func (s *PaperStore) CountForFilter(filter paper.Filter) (int, error) {
	ids, err := s.idsForFilter(filter)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// MissingEmbedding returns the papers of a filter that still lack an
// embedding, in stable id order.
func (s *PaperStore) MissingEmbedding(filter paper.Filter) ([]paper.Paper, error) {
	ids, err := s.idsForFilter(filter)
	if err != nil {
		return nil, err
	}

	missing := make([]paper.Paper, 0, len(ids))
	for _, id := range ids {
		p, ok, err := s.GetByID(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if p.NeedsEmbedding() {
			missing = append(missing, p)
		}
	}
	return missing, nil
}
