// Package bolt keeps a collection in a single bbolt file and serves searches
// from an in-memory mirror of it.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"docrag/internal/domain"
	"docrag/internal/vectorstore/memory"
)

var (
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")
	bucketVectors = []byte("vectors")
	bucketIDs     = []byte("ids")

	keyDimension = []byte("dimension")
)

// record is the JSON value stored per entry; the vector lives in its own bucket.
type record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Index    int               `json:"index"`
	Fallback bool              `json:"fallback,omitempty"`
}

type Storage struct {
	mu      sync.Mutex
	path    string
	db      *bbolt.DB
	invalid bool
	mirror  *memory.Storage
	logger  *slog.Logger
}

// Open loads the collection file at path. A missing file is created on the
// first Append. A file that holds no readable collection is treated as empty
// and moved aside on the first Append.
func Open(path string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Storage{path: path, mirror: memory.NewStorage(), logger: logger}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	case info.IsDir():
		s.invalid = true
		logger.Warn("collection path is a directory, treating as empty", "path", path)
		return s, nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("open %s: collection is locked by another process: %w", path, err)
	}
	if err != nil {
		s.invalid = true
		logger.Warn("collection file unreadable, treating as empty", "path", path, "error", err)
		return s, nil
	}
	entries, err := load(db)
	if err != nil {
		_ = db.Close()
		s.invalid = true
		logger.Warn("collection data unreadable, treating as empty", "path", path, "error", err)
		return s, nil
	}
	s.db = db
	s.mirror.Insert(entries)
	return s, nil
}

func load(db *bbolt.DB) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := db.View(func(tx *bbolt.Tx) error {
		eb, vb := tx.Bucket(bucketEntries), tx.Bucket(bucketVectors)
		if eb == nil || vb == nil {
			return nil
		}
		dim := 0
		if mb := tx.Bucket(bucketMeta); mb != nil {
			if raw := mb.Get(keyDimension); raw != nil {
				d, err := strconv.Atoi(string(raw))
				if err != nil {
					return fmt.Errorf("dimension: %w", err)
				}
				dim = d
			}
		}
		return eb.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("bad entry key %x", k)
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("entry %x: %w", k, err)
			}
			vec, err := decodeVector(vb.Get(k))
			if err != nil {
				return fmt.Errorf("vector %x: %w", k, err)
			}
			if dim > 0 && len(vec) != dim {
				return fmt.Errorf("vector %x has %d dimensions, want %d", k, len(vec), dim)
			}
			entries = append(entries, domain.Entry{
				Seq:      binary.BigEndian.Uint64(k),
				Chunk:    domain.Chunk{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Index: r.Index},
				Vector:   vec,
				Fallback: r.Fallback,
			})
			return nil
		})
	})
	return entries, err
}

func (s *Storage) Path() string { return s.path }

func (s *Storage) Dimension(ctx context.Context) (int, error) { return s.mirror.Dimension(ctx) }

func (s *Storage) Count(ctx context.Context) (int, error) { return s.mirror.Count(ctx) }

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	return s.mirror.Search(ctx, vector, k)
}

// Append writes new entries in one transaction. bbolt syncs the file on
// commit, so the entries are durable once Append returns.
func (s *Storage) Append(ctx context.Context, entries []domain.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.mirror.Pending(entries)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, domain.TransportError(ctx, "append", err)
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		eb, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		vb, err := tx.CreateBucketIfNotExists(bucketVectors)
		if err != nil {
			return err
		}
		ib, err := tx.CreateBucketIfNotExists(bucketIDs)
		if err != nil {
			return err
		}
		if mb.Get(keyDimension) == nil {
			if err := mb.Put(keyDimension, []byte(strconv.Itoa(len(pending[0].Vector)))); err != nil {
				return err
			}
		}
		for _, e := range pending {
			key := seqKey(e.Seq)
			data, err := json.Marshal(record{
				ID:       e.Chunk.ID,
				Content:  e.Chunk.Content,
				Metadata: e.Chunk.Metadata,
				Index:    e.Chunk.Index,
				Fallback: e.Fallback,
			})
			if err != nil {
				return err
			}
			if err := eb.Put(key, data); err != nil {
				return err
			}
			if err := vb.Put(key, encodeVector(e.Vector)); err != nil {
				return err
			}
			if err := ib.Put([]byte(e.Chunk.ID), key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", s.path, err)
	}
	s.mirror.Insert(pending)
	return len(pending), nil
}

func (s *Storage) ensureDB() error {
	if s.db != nil {
		return nil
	}
	if s.invalid {
		aside := fmt.Sprintf("%s.invalid-%d", s.path, time.Now().UnixNano())
		if err := os.Rename(s.path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move invalid collection aside: %w", err)
		}
		s.logger.Warn("moved unreadable collection aside", "path", s.path, "moved_to", aside)
		s.invalid = false
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	s.db = db
	s.logger.Info("created collection file", "path", s.path)
	return nil
}

// Drop closes and removes the collection file. The storage stays usable: the
// next Append starts a new file.
func (s *Storage) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}
	s.invalid = false
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return s.mirror.Drop(ctx)
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
