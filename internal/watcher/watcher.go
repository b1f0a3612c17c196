// Package watcher provides a debounced, recursive file watcher confined to a
// single root directory.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a directory tree for changes and delivers debounced
// batches to its handlers.
type FileWatcher struct {
	root      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	ignore    []string
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
	stopOnce  sync.Once
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string // absolute path
	RelPath string // slash-separated path relative to root
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
	// EventTypeOverflow marks a batch that lost events because the watcher
	// fell behind. It carries no path.
	EventTypeOverflow
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
	case EventTypeOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be reported. It receives the path
// relative to the root.
type FileFilter func(relPath string) bool

// ChangeHandler handles file change events
type ChangeHandler func(events []ChangeEvent) error

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay    time.Duration
	events   chan ChangeEvent
	output   chan []ChangeEvent
	timer    *time.Timer
	pending  []ChangeEvent
	mutex    sync.Mutex
	overflow atomic.Bool
	logger   logging.Logger
}

// Options configures a FileWatcher.
type Options struct {
	Root     string
	Debounce time.Duration
	Ignore   []string // doublestar globs matched against root-relative paths
	Logger   logging.Logger
}

// NewFileWatcher creates a new file watcher rooted at opts.Root.
func NewFileWatcher(opts Options) (*FileWatcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	for _, pattern := range opts.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	delay := opts.Debounce
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		root:    root,
		watcher: w,
		debouncer: &Debouncer{
			delay:   delay,
			events:  make(chan ChangeEvent, 100),
			output:  make(chan []ChangeEvent, 10),
			pending: make([]ChangeEvent, 0),
			logger:  logger.WithComponent("watcher"),
		},
		ignore:   opts.Ignore,
		filters:  make([]FileFilter, 0),
		handlers: make([]ChangeHandler, 0),
		logger:   logger.WithComponent("watcher"),
	}, nil
}

// Root returns the absolute watch root.
func (fw *FileWatcher) Root() string {
	return fw.root
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive adds dir and all its non-ignored subdirectories.
func (fw *FileWatcher) AddRecursive(dir string) error {
	abs, err := fw.resolve(dir)
	if err != nil {
		return err
	}

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := fw.relative(path)
		if relErr != nil {
			return relErr
		}
		if rel != "." && fw.Ignored(rel) {
			return filepath.SkipDir
		}

		return fw.watcher.Add(path)
	})
}

// Ignored reports whether a root-relative path matches an ignore glob.
// A directory is ignored when it or any of its descendants would be, so
// "**/node_modules/**" also prunes "node_modules" itself.
func (fw *FileWatcher) Ignored(relPath string) bool {
	for _, pattern := range fw.ignore {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, relPath+"/x"); ok {
			return true
		}
	}
	return false
}

// resolve makes path absolute and confines it to the root.
func (fw *FileWatcher) resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(fw.root, path)
	}
	abs := filepath.Clean(path)

	if _, err := fw.relative(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (fw *FileWatcher) relative(abs string) (string, error) {
	rel, err := filepath.Rel(fw.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside watch root %s", abs, fw.root)
	}
	return filepath.ToSlash(rel), nil
}

// Start starts the file watcher; it runs until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.AddRecursive(fw.root); err != nil {
		return fmt.Errorf("watching %s: %w", fw.root, err)
	}

	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.debouncer.mutex.Lock()
		if fw.debouncer.timer != nil {
			fw.debouncer.timer.Stop()
		}
		fw.debouncer.mutex.Unlock()

		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	rel, err := fw.relative(event.Name)
	if err != nil || fw.Ignored(rel) {
		return
	}

	info, statErr := os.Stat(event.Name)

	// New directories are not covered by existing watches.
	if statErr == nil && info.IsDir() {
		if event.Op&fsnotify.Create == fsnotify.Create {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", rel)
			}
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(rel) {
			return
		}
	}

	changeEvent := ChangeEvent{
		Type:    eventTypeOf(event.Op),
		Path:    event.Name,
		RelPath: rel,
	}
	if statErr == nil {
		changeEvent.ModTime = info.ModTime()
		changeEvent.Size = info.Size()
	}

	select {
	case fw.debouncer.events <- changeEvent:
	default:
		fw.debouncer.overflow.Store(true)
		fw.logger.Debug(context.Background(), "Event queue full, dropping event", "path", rel)
	}
}

func eventTypeOf(op fsnotify.Op) EventType {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return EventTypeCreated
	case op&fsnotify.Write == fsnotify.Write:
		return EventTypeModified
	case op&fsnotify.Remove == fsnotify.Remove:
		return EventTypeDeleted
	case op&fsnotify.Rename == fsnotify.Rename:
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Warn(ctx, err, "File watcher handler error")
				}
			}
		}
	}
}

func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	// Last event per path wins; order of first appearance is kept.
	index := make(map[string]int, len(d.pending))
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		if i, ok := index[event.Path]; ok {
			events[i] = event
			continue
		}
		index[event.Path] = len(events)
		events = append(events, event)
	}

	if d.overflow.Swap(false) {
		events = append(events, ChangeEvent{Type: EventTypeOverflow})
	}

	select {
	case d.output <- events:
		d.pending = d.pending[:0]
	default:
		// Keep the batch and retry once the handlers catch up.
		d.pending = events
		if d.logger != nil {
			d.logger.Debug(context.Background(), "Batch queue full, retrying", "events", len(events))
		}
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}

// ExtFilter accepts paths with one of the given extensions.
func ExtFilter(exts ...string) FileFilter {
	return func(relPath string) bool {
		ext := filepath.Ext(relPath)
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// NoHiddenFilter rejects dotfiles and anything inside a dot directory.
func NoHiddenFilter(relPath string) bool {
	for _, segment := range strings.Split(relPath, "/") {
		if strings.HasPrefix(segment, ".") && segment != "." && segment != ".." {
			return false
		}
	}
	return true
}
