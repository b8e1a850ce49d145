// Package cache stores accepted generator output on disk, one JSON file per
// chunk hash, behind a short-lived in-memory front.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/logging"
)

const (
	memoryTTL      = 10 * time.Minute
	memoryCapacity = 2048
)

// Signature is the generation configuration that produced an entry. An
// entry is only reused under an identical signature.
type Signature struct {
	Backend            string  `json:"backend"`
	Model              string  `json:"model"`
	NumPredict         int     `json:"num_predict"`
	Temperature        float64 `json:"temperature"`
	RepeatPenalty      float64 `json:"repeat_penalty"`
	ChunkChars         int     `json:"chunk_chars"`
	PostprocessVersion string  `json:"postprocess_version"`
}

// Entry is the on-disk record.
type Entry struct {
	Hash        string    `json:"hash"`
	RawOutput   string    `json:"raw_output"`
	FinalOutput string    `json:"final_output"`
	Timestamp   time.Time `json:"timestamp"`
	Metadata    Signature `json:"metadata"`
}

// Digest is a short stable key of the signature, used to scope rows that
// outlive the file cache.
func (s Signature) Digest() string {
	// A flat struct of strings and numbers always marshals.
	b, _ := json.Marshal(s)
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Hash is the cache key of a chunk: the first 16 hex digits of its sha256.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Cache is a per-stage handle. It is safe for concurrent use.
type Cache struct {
	dir    string
	stage  string
	mem    *ttlcache.Cache[uint64, Entry]
	logger *zap.Logger
}

// New opens the cache for stage under dir, creating the directory.
func New(dir, stage string, logger *zap.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is empty")
	}
	path := filepath.Join(dir, stage)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		dir:   path,
		stage: stage,
		mem: ttlcache.New(
			ttlcache.WithTTL[uint64, Entry](memoryTTL),
			ttlcache.WithCapacity[uint64, Entry](memoryCapacity),
		),
		logger: logging.OrNop(logger).Named("cache").With(zap.String("stage", stage)),
	}, nil
}

// Dir is the stage directory holding the entry files.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) Stage() string { return c.stage }

func (c *Cache) path(hash string) string {
	return filepath.Join(c.dir, hash+".json")
}

func memKey(hash string) uint64 { return xxhash.Sum64String(hash) }

// Get returns the entry stored under hash when its signature equals sig.
// Missing, unreadable and mismatched entries are all misses.
func (c *Cache) Get(hash string, sig Signature) (Entry, bool) {
	if item := c.mem.Get(memKey(hash)); item != nil {
		if e := item.Value(); e.Hash == hash && e.Metadata == sig {
			return e, true
		}
	}

	data, err := os.ReadFile(c.path(hash))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache read failed", zap.String("hash", hash), zap.Error(err))
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug("corrupt cache entry ignored", zap.String("hash", hash), zap.Error(err))
		return Entry{}, false
	}
	if e.Metadata != sig || e.FinalOutput == "" {
		c.logger.Debug("cache signature mismatch", zap.String("hash", hash))
		return Entry{}, false
	}
	c.mem.Set(memKey(hash), e, ttlcache.DefaultTTL)
	return e, true
}

// Put records an accepted result. Write errors are logged and dropped.
func (c *Cache) Put(hash, raw, final string, sig Signature) {
	e := Entry{
		Hash:        hash,
		RawOutput:   raw,
		FinalOutput: final,
		Timestamp:   time.Now().UTC(),
		Metadata:    sig,
	}
	if err := c.write(e); err != nil {
		c.logger.Warn("cache write failed", zap.String("hash", hash), zap.Error(err))
		return
	}
	c.mem.Set(memKey(hash), e, ttlcache.DefaultTTL)
}

func (c *Cache) write(e Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, e.Hash+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(e.Hash)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes one entry. A missing entry is not an error.
func (c *Cache) Delete(hash string) error {
	c.mem.Delete(memKey(hash))
	if err := os.Remove(c.path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes every entry of the stage and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	c.mem.DeleteAll()
	files, err := c.files()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Len counts the entry files of the stage.
func (c *Cache) Len() (int, error) {
	files, err := c.files()
	return len(files), err
}

func (c *Cache) files() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(c.dir, e.Name()))
		}
	}
	return files, nil
}
