package distrib

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// FileClient keeps configuration documents on the local filesystem under
// a root directory and turns file changes into refresh notifications.
// Intended for development and single-node deployments; clustered setups
// use the Redis client.
type FileClient struct {
	root string
	log  *observability.Logger
}

func NewFileClient(root string, log *observability.Logger) (*FileClient, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config root: %w", err)
	}
	return &FileClient{root: root, log: log}, nil
}

// resolve maps a logical document path onto a file under the root.
func (c *FileClient) resolve(path string) string {
	return filepath.Join(c.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// logical maps a file under the root back onto its document path.
func (c *FileClient) logical(file string) (string, bool) {
	rel, err := filepath.Rel(c.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (c *FileClient) GetConfig(ctx context.Context, tenant, path string) ([]byte, error) {
	content, err := os.ReadFile(c.resolve(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return content, nil
}

func (c *FileClient) UpdateConfig(ctx context.Context, tenant, path string, content []byte) error {
	file := c.resolve(path)
	if len(content) == 0 {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete config %s: %w", path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir for %s: %w", path, err)
	}
	if err := os.WriteFile(file, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Bootstrap walks the tree once and delivers every document through
// Hub.Init. Called at startup before Watch.
func (c *FileClient) Bootstrap(hub *Hub) error {
	return filepath.WalkDir(c.root, func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		path, ok := c.logical(file)
		if !ok {
			return nil
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s during bootstrap: %w", path, err)
		}
		hub.Init(path, content)
		return nil
	})
}

// Resync re-delivers every document as a refresh. The daemon schedules
// it to recover from missed filesystem events.
func (c *FileClient) Resync(ctx context.Context, hub *Hub) error {
	return filepath.WalkDir(c.root, func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path, ok := c.logical(file)
		if !ok {
			return nil
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s during resync: %w", path, err)
		}
		hub.Refresh(path, content)
		return nil
	})
}

// Watch blocks, turning filesystem events under the root into hub
// refreshes until the context is cancelled.
func (c *FileClient) Watch(ctx context.Context, hub *Hub) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// fsnotify does not recurse; add the root and every subdirectory.
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch config tree: %w", err)
	}

	c.log.WithField("root", c.root).Info("file distribution watch started")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			c.handleEvent(watcher, hub, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.WithError(err).Error("file distribution watch error")

		case <-ctx.Done():
			c.log.Info("file distribution watch stopping")
			return nil
		}
	}
}

func (c *FileClient) handleEvent(watcher *fsnotify.Watcher, hub *Hub, event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				c.log.WithError(err).WithField("dir", event.Name).Error("failed to watch new directory")
			}
			return
		}
	}

	path, ok := c.logical(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		hub.Refresh(path, nil)
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		content, err := os.ReadFile(event.Name)
		if err != nil {
			c.log.WithError(err).WithField("path", path).Error("failed to read changed document")
			return
		}
		hub.Refresh(path, content)
	}
}
