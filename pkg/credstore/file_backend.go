package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	fileBackendMode      = 0o600
	fileBackendDirectory = 0o700
)

var errNonJSONValue = errors.New("credstore.file.non_json_value")

// FileBackend keeps all entries in one JSON document on disk. Writes go to a
// temporary file that is renamed over the document, so a reader never sees a
// half-written session.
type FileBackend struct {
	mutex sync.Mutex
	path  string
}

type fileDocument struct {
	Entries map[string]json.RawMessage `json:"entries"`
}

// NewFileBackend constructs a backend writing to path.
func NewFileBackend(path string) (*FileBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credstore.open.file: %w", errEmptyFilePath)
	}
	return &FileBackend{path: filepath.Clean(path)}, nil
}

// Path returns the document location.
func (backend *FileBackend) Path() string {
	return backend.path
}

// Get reads key from the document.
func (backend *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	document, err := backend.readLocked()
	if err != nil {
		return nil, err
	}
	value, ok := document.Entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return []byte(value), nil
}

// SetMany merges entries into the document and rewrites it atomically.
func (backend *FileBackend) SetMany(ctx context.Context, entries map[string][]byte) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	document, err := backend.readLocked()
	if err != nil {
		// An unreadable document is replaced rather than blocking new sessions.
		document = fileDocument{Entries: make(map[string]json.RawMessage)}
	}
	for key, value := range entries {
		if !json.Valid(value) {
			return fmt.Errorf("credstore.file.encode: %w: %s", errNonJSONValue, key)
		}
		document.Entries[key] = json.RawMessage(value)
	}
	return backend.writeLocked(document)
}

// Delete removes keys and rewrites the document.
func (backend *FileBackend) Delete(ctx context.Context, keys ...string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	document, err := backend.readLocked()
	if err != nil {
		document = fileDocument{Entries: make(map[string]json.RawMessage)}
	}
	for _, key := range keys {
		delete(document.Entries, key)
	}
	return backend.writeLocked(document)
}

// Close is a no-op.
func (backend *FileBackend) Close() error {
	return nil
}

func (backend *FileBackend) readLocked() (fileDocument, error) {
	data, err := os.ReadFile(backend.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileDocument{Entries: make(map[string]json.RawMessage)}, nil
		}
		return fileDocument{}, fmt.Errorf("credstore.file.read: %w", err)
	}
	var document fileDocument
	if unmarshalErr := json.Unmarshal(data, &document); unmarshalErr != nil {
		return fileDocument{}, fmt.Errorf("credstore.file.parse: %w", unmarshalErr)
	}
	if document.Entries == nil {
		document.Entries = make(map[string]json.RawMessage)
	}
	return document, nil
}

func (backend *FileBackend) writeLocked(document fileDocument) error {
	data, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("credstore.file.encode: %w", err)
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(backend.path), fileBackendDirectory); mkdirErr != nil {
		return fmt.Errorf("credstore.file.mkdir: %w", mkdirErr)
	}
	tempFile := backend.path + ".tmp"
	if writeErr := os.WriteFile(tempFile, data, fileBackendMode); writeErr != nil {
		return fmt.Errorf("credstore.file.write: %w", writeErr)
	}
	if renameErr := os.Rename(tempFile, backend.path); renameErr != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf("credstore.file.rename: %w (cleanup: %v)", renameErr, removeErr)
		}
		return fmt.Errorf("credstore.file.rename: %w", renameErr)
	}
	return nil
}
