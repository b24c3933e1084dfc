package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileBackend stores one JSON document per user in a directory. Writes are
// atomic (temp file and rename) and every process watching the directory
// sees them through fsnotify, so independent processes converge.
type FileBackend struct {
	dir string
	mu  sync.Mutex // Serializes read-merge-write within this process
}

// NewFileBackend creates a backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// fileName maps a user id to a safe file name.
func fileName(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '@', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "_"
	}
	return name + ".json"
}

func (b *FileBackend) path(userID string) string {
	return filepath.Join(b.dir, fileName(userID))
}

// Get returns the stored record for userID.
func (b *FileBackend) Get(_ context.Context, userID string) (Record, error) {
	return b.read(b.path(userID))
}

func (b *FileBackend) read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read status: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse status: %w", err)
	}
	return rec, nil
}

// Merge folds rec into the stored document.
func (b *FileBackend) Merge(ctx context.Context, userID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(userID)
	stored, err := b.read(path)
	if err != nil {
		slog.Warn("replacing unreadable status file", "path", path, "error", err)
		stored = Record{}
	}
	merged, ok := Merge(stored, rec)
	if !ok {
		return nil
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write temp file: %w", err), tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("close temp file: %w", err), os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Join(fmt.Errorf("rename status file: %w", err), os.Remove(tmpName))
	}
	return nil
}

// Subscribe watches the user's document and delivers every change until
// cancel is called or ctx is done.
func (b *FileBackend) Subscribe(ctx context.Context, userID string, fn func(Record)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(b.dir); err != nil {
		return nil, errors.Join(fmt.Errorf("watch directory: %w", err), watcher.Close())
	}

	path := b.path(userID)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rec, err := b.read(path)
				if err != nil {
					slog.Warn("failed to read status change", "path", path, "error", err)
					continue
				}
				if rec.Status != "" {
					fn(rec)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("status watcher error", "dir", b.dir, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := watcher.Close(); err != nil {
				slog.Warn("failed to close status watcher", "error", err)
			}
			<-done
		})
	}, nil
}
