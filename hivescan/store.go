package hivescan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a path that would escape the storage root.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store using the local filesystem.
type fsStore struct {
	root string
}

// NewFSStore creates a filesystem-backed Store rooted at the given
// directory. The directory must exist. Paths handed to the store are
// relative to that root and use forward slashes.
//
// Consistency: immediate read-after-write on local filesystems.
func NewFSStore(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	searchPath, err := f.safePathForPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.Walk(searchPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // prefix doesn't exist, return empty list
			}
			return err
		}
		if !info.IsDir() {
			relPath, err := filepath.Rel(f.root, p)
			if err != nil {
				return err
			}
			// Normalize to forward slashes for consistency
			paths = append(paths, filepath.ToSlash(relPath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (f *fsStore) Stat(_ context.Context, path string) (ObjectInfo, error) {
	fullPath, err := f.safePathForFile(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, err
	}
	if info.IsDir() {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Path: path, SizeBytes: info.Size()}, nil
}

func (f *fsStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := f.safePathForFile(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *fsStore) ReaderAt(_ context.Context, path string) (SizedReaderAt, error) {
	fullPath, err := f.safePathForFile(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &fileReaderAt{file: file, size: info.Size()}, nil
}

// fileReaderAt wraps an os.File as a SizedReaderAt.
type fileReaderAt struct {
	file *os.File
	size int64
}

func (r *fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(p, off)
}

func (r *fileReaderAt) Close() error { return r.file.Close() }

func (r *fileReaderAt) Size() int64 { return r.size }

// safePathForFile validates and resolves a file path, ensuring it stays
// within the root. Rejects empty path and "." since those would target the
// root directory itself.
//
// Note: this does not prevent symlink escapes. A symlink inside the root
// pointing outside can still be accessed; symlink hardening is out of scope.
func (f *fsStore) safePathForFile(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))

	if cleaned == "." || path == "" {
		return "", ErrInvalidPath
	}
	if filepath.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	fullPath := filepath.Join(f.root, cleaned)

	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	// Path must be strictly under root (not equal to root)
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	return fullPath, nil
}

// safePathForPrefix validates and resolves a prefix path for listing.
// Allows empty path (list all) but rejects traversal attempts.
func (f *fsStore) safePathForPrefix(path string) (string, error) {
	if path == "" {
		return f.root, nil
	}

	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == "." {
		return f.root, nil
	}
	if filepath.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	return filepath.Join(f.root, cleaned), nil
}

// Ensure fsStore implements Store.
var _ Store = (*fsStore)(nil)

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store using an in-memory map.
//
// Memory stores are safe for concurrent use and intended for tests and
// examples.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// MemoryStore is an in-memory Store with a write surface for populating
// fixtures.
type MemoryStore struct {
	memoryStore
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.data = make(map[string][]byte)
	return s
}

// Put writes an object, replacing any existing content at the path.
func (m *MemoryStore) Put(path string, data []byte) {
	normalized, ok := normalizeObjectPath(path)
	if !ok {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	m.data[normalized] = buf
	m.mu.Unlock()
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	normalized, ok := normalizePrefix(prefix)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []string
	for p := range m.data {
		if strings.HasPrefix(p, normalized) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (m *memoryStore) Stat(_ context.Context, path string) (ObjectInfo, error) {
	normalized, ok := normalizeObjectPath(path)
	if !ok {
		return ObjectInfo{}, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()
	if !exists {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Path: path, SizeBytes: int64(len(data))}, nil
}

func (m *memoryStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	normalized, ok := normalizeObjectPath(path)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}

	// Copy to avoid races if the caller reads while a writer replaces the
	// object.
	buf := make([]byte, len(data))
	copy(buf, data)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memoryStore) ReaderAt(_ context.Context, path string) (SizedReaderAt, error) {
	normalized, ok := normalizeObjectPath(path)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return &memoryReaderAt{reader: bytes.NewReader(buf), size: int64(len(buf))}, nil
}

type memoryReaderAt struct {
	reader *bytes.Reader
	size   int64
}

func (r *memoryReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.reader.ReadAt(p, off)
}

func (r *memoryReaderAt) Close() error { return nil }

func (r *memoryReaderAt) Size() int64 { return r.size }

// normalizeObjectPath ensures consistent path formatting for object
// operations. Rejects empty path, "." and traversal sequences.
func normalizeObjectPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(filepath.FromSlash(path))), "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}

// normalizePrefix ensures consistent prefix formatting for listing.
// Allows empty and "." for listing all objects. A trailing slash is
// preserved so that prefix "a=1/" does not also match "a=10/...".
func normalizePrefix(prefix string) (string, bool) {
	if prefix == "" {
		return "", true
	}
	trailingSlash := strings.HasSuffix(prefix, "/")
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(filepath.FromSlash(prefix))), "/")
	if cleaned == "." {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if trailingSlash {
		cleaned += "/"
	}
	return cleaned, true
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
