// Package watch reports changes to template sources on disk. Bursts of file
// system events are debounced into a single batch before the handler runs.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType is the kind of change seen for a path.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is the last change seen for a path within a debounce window.
type Event struct {
	Type EventType
	Path string
}

// Filter decides whether changes to path are reported.
type Filter func(path string) bool

// Handler receives each debounced batch, sorted by path.
type Handler func(ctx context.Context, events []Event) error

// ExtFilter accepts paths ending in ext.
func ExtFilter(ext string) Filter {
	return func(path string) bool {
		return filepath.Ext(path) == ext
	}
}

// NoHiddenFilter rejects dot files, including editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// Watcher watches directory trees and calls a Handler with debounced batches
// of changes.
type Watcher struct {
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	delay     time.Duration
	handler   Handler
	filters   []Filter
	closeOnce sync.Once
	closeErr  error
}

// New creates a Watcher. Paths must be added with AddRecursive before Run.
func New(logger *slog.Logger, delay time.Duration, handler Handler, filters ...Filter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		logger:  logger,
		fsw:     fsw,
		delay:   delay,
		handler: handler,
		filters: filters,
	}, nil
}

// AddRecursive watches root and every directory below it. Directories created
// later are picked up while Run is active.
func (w *Watcher) AddRecursive(root string) error {
	return filepath.WalkDir(filepath.Clean(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err = w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.logger.Debug("Watching directory", "path", path)
		return nil
	})
}

func (w *Watcher) accept(path string) bool {
	for _, filter := range w.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func typeOf(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// Run processes events until ctx is done or the Watcher is closed. It blocks;
// the handler is called on Run's goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	pending := make(map[string]Event)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err = w.AddRecursive(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if !w.accept(ev.Name) {
				continue
			}
			pending[ev.Name] = Event{Type: typeOf(ev.Op), Path: ev.Name}
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", "error", err)

		case <-fire:
			fire = nil
			events := make([]Event, 0, len(pending))
			for _, ev := range pending {
				events = append(events, ev)
			}
			clear(pending)
			sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

			w.logger.Info("Template sources changed", "count", len(events))
			if err := w.handler(ctx, events); err != nil {
				w.logger.Error("File watcher handler error", "error", err)
			}
		}
	}
}

// Close stops watching. Run returns once Close has been called. It is safe to
// call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}
