// Package services loads the optional YAML registry of containerized
// simulation services a task's tools may need to reach (a database fixture,
// a mock payment gateway, a sandboxed compiler service). The orchestrator
// and agent loop never parse this file themselves — it exists purely so the
// services_lookup tool can hand an agent an endpoint by name instead of the
// operator hardcoding one into every task prompt.
package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/taskforge/engine/config"
)

// Entry describes one registered service.
type Entry struct {
	Name        string            `yaml:"name"`
	Endpoint    string            `yaml:"endpoint"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

type document struct {
	Services []Entry `yaml:"services"`
}

// Registry holds the current set of service entries, hot-reloaded from disk
// when the config enables it.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads cfg.Path, if set, and, when cfg.WatchReloads, starts a
// background fsnotify watch that reloads the file on every write. A
// zero-value cfg is a valid empty registry — the services file is optional
// (spec §6), and Lookup simply always misses.
func Open(cfg config.ServicesConfig) (*Registry, error) {
	r := &Registry{path: cfg.Path, entries: map[string]Entry{}}
	if cfg.Path == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}
	if cfg.WatchReloads {
		if err := r.watch(); err != nil {
			return nil, fmt.Errorf("services: %w", err)
		}
	}
	return r, nil
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", r.path, err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}
	entries := make(map[string]Entry, len(doc.Services))
	for _, e := range doc.Services {
		entries[e.Name] = e
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// watch starts a goroutine that reloads the registry on every write/create
// event for r.path, following the teacher's own config-file watch loop
// (directory-level watch, since some filesystems don't support watching a
// single file directly).
func (r *Registry) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = w
	r.done = make(chan struct{})
	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	defer close(r.done)
	name := filepath.Base(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = r.reload() // best effort: keep serving the last good set on a parse error
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Lookup returns the named service entry.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns every known entry, sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops the background watch, if one was started.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.done
	return err
}
