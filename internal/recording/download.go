package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
)

// maxNameAttempts bounds the search for a free filename.
const maxNameAttempts = 1000

// Filename returns the download name for a recording finished at t.
func Filename(t time.Time, blob media.Blob) string {
	return fmt.Sprintf("screen-recording-%s.%s", t.UTC().Format("2006-01-02-15-04-05"), blob.Extension())
}

// LocalSaver writes recordings into a downloads directory. Existing files
// are never overwritten; a numeric suffix is added instead.
type LocalSaver struct {
	dir string
}

// NewLocalSaver creates a saver writing into dir.
func NewLocalSaver(dir string) *LocalSaver {
	return &LocalSaver{dir: dir}
}

// Dir returns the downloads directory.
func (s *LocalSaver) Dir() string {
	return s.dir
}

// Download writes blob as filename and returns the name actually used.
func (s *LocalSaver) Download(ctx context.Context, blob media.Blob, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}

	name := filepath.Base(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := range maxNameAttempts {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", candidate, err)
		}

		if _, err := f.Write(blob.Data); err != nil {
			return "", errors.Join(fmt.Errorf("write %s: %w", candidate, err), f.Close(), os.Remove(path))
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", candidate, err)
		}

		slog.Info("recording saved", "path", path, "bytes", blob.Size())
		return candidate, nil
	}
	return "", fmt.Errorf("no free filename for %s", name)
}
