package regime

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"chorus/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// profileFile maps the regimes profile document.
type profileFile struct {
	Regimes map[string]Params `yaml:"regimes"`
}

// ProfileStore serves the active parameter bundles and hot-reloads them when
// the profile file changes. With an empty path it serves DefaultParams.
type ProfileStore struct {
	path string

	mu       sync.RWMutex
	params   ParamSet
	loadedAt time.Time

	watcher *fsnotify.Watcher
}

func NewProfileStore(path string) (*ProfileStore, error) {
	s := &ProfileStore{path: strings.TrimSpace(path), params: DefaultParams()}
	if s.path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("regime profile watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("regime profile watch %s: %w", s.path, err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Params returns the bundle for the regime type, falling back to the choppy
// bundle for unknown types.
func (s *ProfileStore) Params(t Type) Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.params[t]; ok {
		return p
	}
	return s.params[Choppy]
}

// All returns a copy of the active parameter set.
func (s *ProfileStore) All() ParamSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(ParamSet, len(s.params))
	for t, p := range s.params {
		out[t] = p
	}
	return out
}

func (s *ProfileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func (s *ProfileStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("regime profile read: %w", err)
	}
	var doc profileFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("regime profile parse: %w", err)
	}
	params := make(ParamSet, len(doc.Regimes))
	for name, p := range doc.Regimes {
		params[Type(strings.ToLower(strings.TrimSpace(name)))] = p
	}
	if err := params.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = params
	s.loadedAt = time.Now()
	s.mu.Unlock()
	logger.Infof("regime profile loaded from %s", s.path)
	return nil
}

func (s *ProfileStore) watch() {
	for {
		select {
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				// Keep serving the previous valid set on a bad edit.
				logger.Errorf("regime profile reload failed: %v", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("regime profile watcher: %v", err)
		}
	}
}
