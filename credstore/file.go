package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const credExt = ".creds"

// File is a directory-backed Store with one file per tenant. Loads are
// served from an in-memory cache; an fsnotify watch on the directory
// invalidates cached entries when credential files change on disk outside
// this process (operator restores, sidecar sync).
type File struct {
	dir     string
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	cache map[string][]byte
}

// FileOption configures a File store.
type FileOption func(*File)

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.log = l }
}

// NewFile creates the directory if needed and starts the watch.
func NewFile(dir string, opts ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	f := &File{
		dir:   dir,
		log:   slog.New(slog.DiscardHandler),
		cache: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(f)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create credential watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch credential dir: %w", err)
	}
	f.watcher = w
	go f.watch()
	return f, nil
}

// Close stops the directory watch.
func (f *File) Close() error { return f.watcher.Close() }

func (f *File) watch() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, credExt) {
				continue
			}
			tenantID := strings.TrimSuffix(filepath.Base(ev.Name), credExt)
			f.mu.Lock()
			delete(f.cache, tenantID)
			f.mu.Unlock()
			f.log.Debug("credential cache invalidated", "tenant_id", tenantID, "op", ev.Op.String())
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("credential watcher error", "err", err)
		}
	}
}

func (f *File) path(tenantID string) (string, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadTenantID, tenantID)
	}
	return filepath.Join(f.dir, tenantID+credExt), nil
}

func (f *File) Save(ctx context.Context, tenantID string, state []byte) error {
	p, err := f.path(tenantID)
	if err != nil {
		return err
	}
	// Write-then-rename so a crash never leaves a torn credential file.
	tmp, err := os.CreateTemp(f.dir, tenantID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create credential temp file: %w", err)
	}
	if _, err := tmp.Write(state); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write credential state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close credential temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("persist credential state: %w", err)
	}
	f.mu.Lock()
	f.cache[tenantID] = append([]byte(nil), state...)
	f.mu.Unlock()
	return nil
}

func (f *File) Load(ctx context.Context, tenantID string) ([]byte, error) {
	p, err := f.path(tenantID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if b, ok := f.cache[tenantID]; ok {
		out := append([]byte(nil), b...)
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential state: %w", err)
	}
	f.mu.Lock()
	f.cache[tenantID] = append([]byte(nil), b...)
	f.mu.Unlock()
	return b, nil
}

func (f *File) Delete(ctx context.Context, tenantID string) error {
	p, err := f.path(tenantID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.cache, tenantID)
	f.mu.Unlock()
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential state: %w", err)
	}
	return nil
}
