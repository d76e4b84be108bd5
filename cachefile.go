package parslet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileCacheMagic and fileCacheVersion identify the on-disk payload format:
// 4-byte magic, 1-byte version, 8-byte big-endian Unix timestamp, then the
// JSON-encoded value (SPEC_FULL.md §6).
var fileCacheMagic = [4]byte{'P', 'S', 'L', 'T'}

const fileCacheVersion byte = 1

// FileCache is a directory-backed persistence layer for ResultCache
// entries: one file per key named by its hex digest, written atomically
// via write-to-temp-then-rename so a crash mid-write never corrupts an
// existing entry.
type FileCache struct {
	dir string
}

// NewFileCache ensures dir exists and returns a FileCache rooted there.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parslet: create cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (fc *FileCache) pathFor(key string) string {
	return filepath.Join(fc.dir, hex.EncodeToString([]byte(key)))
}

// Put atomically writes value under key, replacing any existing file.
func (fc *FileCache) Put(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("parslet: marshal cache value: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(fileCacheMagic[:])
	buf.WriteByte(fileCacheVersion)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().Unix()))
	buf.Write(ts[:])
	buf.Write(payload)

	final := fc.pathFor(key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("parslet: write cache file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("parslet: rename cache file: %w", err)
	}
	return nil
}

// Get reads and decodes the entry for key into dst (a pointer, as for
// json.Unmarshal). ok is false if no entry exists, it is corrupt, or it is
// older than maxAge (a zero maxAge accepts any age).
func (fc *FileCache) Get(key string, maxAge time.Duration, dst any) (ok bool, storedAt time.Time, err error) {
	data, err := os.ReadFile(fc.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("parslet: read cache file: %w", err)
	}
	if len(data) < 4+1+8 {
		return false, time.Time{}, fmt.Errorf("parslet: cache file truncated")
	}
	if !bytes.Equal(data[:4], fileCacheMagic[:]) {
		return false, time.Time{}, fmt.Errorf("parslet: cache file bad magic")
	}
	version := data[4]
	if version != fileCacheVersion {
		return false, time.Time{}, fmt.Errorf("parslet: unsupported cache file version %d", version)
	}
	storedAt = time.Unix(int64(binary.BigEndian.Uint64(data[5:13])), 0)
	if maxAge > 0 && time.Since(storedAt) > maxAge {
		return false, storedAt, nil
	}
	if err := json.Unmarshal(data[13:], dst); err != nil {
		return false, storedAt, fmt.Errorf("parslet: decode cache value: %w", err)
	}
	return true, storedAt, nil
}

// Remove deletes key's file, if any. Absence is not an error.
func (fc *FileCache) Remove(key string) error {
	err := os.Remove(fc.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("parslet: remove cache file: %w", err)
	}
	return nil
}
