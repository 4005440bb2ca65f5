package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"cardscan/internal/services"
)

const component = "image store"

// Local stores images under a directory on the local filesystem.
type Local struct {
	root         string
	minFreeBytes uint64
	maxBytes     int64
}

// NewLocal prepares root for image storage. Writes are refused when the
// filesystem has less than minFreeMB available or an image exceeds maxBytes.
func NewLocal(root string, minFreeMB int, maxBytes int64) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "upload directory is empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "init", "create upload directory", err)
	}
	var minFree uint64
	if minFreeMB > 0 {
		minFree = uint64(minFreeMB) << 20
	}
	return &Local{root: root, minFreeBytes: minFree, maxBytes: maxBytes}, nil
}

// Root returns the storage directory.
func (l *Local) Root() string {
	return l.root
}

// Put writes body to key atomically via a temp file and rename.
func (l *Local) Put(ctx context.Context, key string, body io.Reader, _ string) (int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.minFreeBytes > 0 {
		free, err := FreeBytes(l.root)
		if err != nil {
			return 0, services.Wrap(services.ErrStorage, component, "put", "check free space", err)
		}
		if free < l.minFreeBytes {
			return 0, services.Wrap(services.ErrStorage, component, "put",
				fmt.Sprintf("insufficient free space in %s: %d MiB available", l.root, free>>20), nil)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "create directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	reader := body
	if l.maxBytes > 0 {
		reader = io.LimitReader(body, l.maxBytes+1)
	}
	written, err := io.Copy(tmp, reader)
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "write image", err)
	}
	if l.maxBytes > 0 && written > l.maxBytes {
		return 0, services.Wrap(services.ErrValidation, component, "put",
			fmt.Sprintf("image exceeds %d MiB limit", l.maxBytes>>20), nil)
	}
	if written == 0 {
		return 0, services.Wrap(services.ErrValidation, component, "put", "image is empty", nil)
	}
	if err := tmp.Sync(); err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "sync image", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "close image", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, services.Wrap(services.ErrStorage, component, "put", "rename image", err)
	}
	committed = true
	return written, nil
}

// Open returns a reader for key.
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, component, "open", key, nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "open", key, err)
	}
	return f, nil
}

// Delete removes key. Missing files are not an error. The per-scan directory
// is removed once empty.
func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrStorage, component, "delete", key, err)
	}
	if dir := filepath.Dir(path); dir != l.root {
		_ = os.Remove(dir)
	}
	return nil
}

func (l *Local) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if cleaned == "." || filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, component, "resolve", fmt.Sprintf("invalid key %q", key), nil)
	}
	return filepath.Join(l.root, cleaned), nil
}

// FreeBytes reports bytes available to unprivileged users on the filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
