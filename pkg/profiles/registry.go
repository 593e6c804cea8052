package profiles

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	appconfig "github.com/auditeng/compliance/internal/config"
	apperrors "github.com/auditeng/compliance/internal/errors"
)

// Registry loads and caches every Profile found under
// Config.Profiles.Dir. Profiles are
// immutable once loaded; a reload swaps the whole map atomically.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	dir      string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewRegistry loads every *.yaml file under cfg.Dir into the registry.
// When cfg.Watch is set (non-production deployments), an fsnotify
// watch on the directory triggers a reload on any write.
func NewRegistry(cfg appconfig.ProfilesConfig, logger *zap.Logger) (*Registry, error) {
	r := &Registry{dir: cfg.Dir, logger: logger}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if cfg.Watch {
		if err := r.startWatch(); err != nil {
			logger.Warn("profile hot-reload watch failed to start", zap.Error(err))
		}
	}
	return r, nil
}

func (r *Registry) reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read profiles directory").WithDetailsf("dir=%s", r.dir)
	}

	loaded := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read profile file").WithDetailsf("path=%s", path)
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "parse profile file").WithDetailsf("path=%s", path)
		}
		loaded[p.Name] = &p
	}

	r.mu.Lock()
	r.profiles = loaded
	r.mu.Unlock()
	return nil
}

func (r *Registry) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					r.logger.Warn("profile hot-reload failed", zap.Error(err))
				} else {
					r.logger.Info("profiles reloaded", zap.String("trigger", event.Name))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("profile watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watch, if any.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// FromMap builds a Registry directly from already-loaded profiles,
// bypassing the filesystem. Used by tests and by callers embedding a
// fixed profile set without a YAML directory on disk.
func FromMap(profiles map[string]*Profile) *Registry {
	return &Registry{profiles: profiles}
}

// Get returns the named profile, or NotFound.
func (r *Registry) Get(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, apperrors.NewNotFound("standard profile " + name)
	}
	return p, nil
}
