/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package watcher debounces filesystem change events for config reload.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const defaultDebounce = 300 * time.Millisecond

// Event is one debounced change notification.
type Event struct {
	Path string
	At   time.Time
}

// Watcher watches a directory tree recursively, filters paths through
// include/exclude globs (matched against the base name), and emits one event
// per path per debounce window.
type Watcher struct {
	root     string
	include  []string
	exclude  []string
	debounce time.Duration
	log      *zap.SugaredLogger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

type Option func(*Watcher)

func WithInclude(globs ...string) Option {
	return func(w *Watcher) { w.include = append(w.include, globs...) }
}

func WithExclude(globs ...string) Option {
	return func(w *Watcher) { w.exclude = append(w.exclude, globs...) }
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func New(log *zap.SugaredLogger, root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		debounce: defaultDebounce,
		log:      log.Named("watcher"),
		pending:  map[string]*time.Timer{},
		events:   make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events is the debounced notification channel.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start begins watching; calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher, %w", err)
	}
	if err := addRecursive(fsw, w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.run(fsw, w.done)
	w.log.Infow("watching", "root", w.root, "debounce", w.debounce)
	return nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watching %s, %w", path, err)
			}
		}
		return nil
	})
}

// Stop halts watching and flushes pending debounce timers; idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	_ = w.fsw.Close()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) run(fsw *fsnotify.Watcher, done <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			// new directories join the watch set
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = fsw.Add(ev.Name)
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			w.schedule(ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("watch error", "error", err)
		}
	}
}

// matches applies include then exclude globs to the file's base name. An
// empty include list matches everything.
func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if len(w.include) > 0 {
		included := lo.SomeBy(w.include, func(glob string) bool {
			ok, _ := filepath.Match(glob, base)
			return ok
		})
		if !included {
			return false
		}
	}
	return !lo.SomeBy(w.exclude, func(glob string) bool {
		ok, _ := filepath.Match(glob, base)
		return ok
	})
}

// schedule arms (or re-arms) the per-path debounce timer; the event fires
// once the path has been quiet for the debounce window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}
		select {
		case w.events <- Event{Path: path, At: time.Now()}:
		default:
			w.log.Warnw("event channel full, dropping change", "path", path)
		}
	})
}
