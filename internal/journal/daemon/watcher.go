package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/notejournal/journal/internal/journal/markdown"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new day file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing day file was modified.
	OpModify
	// OpDelete indicates a day file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DayEvent is a change to one {yyyy}/{mm}/{dd}.md file.
type DayEvent struct {
	// Day is the yyyy-MM-dd date the file holds.
	Day string
	// Path is the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// DayWatcher watches a markdown directory tree for changes to day files.
// Year and month directories created after Start are picked up as they
// appear.
type DayWatcher struct {
	watcher *fsnotify.Watcher
	events  chan DayEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	baseDir string
}

// NewDayWatcher creates a new DayWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewDayWatcher() (*DayWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &DayWatcher{
		watcher: watcher,
		events:  make(chan DayEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching baseDir and every directory below it. baseDir is
// created if it does not exist.
func (dw *DayWatcher) Start(baseDir string) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve markdown directory %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create markdown directory %s: %w", abs, err)
	}
	dw.baseDir = abs

	if err := dw.addTree(abs); err != nil {
		return err
	}

	dw.running = true
	dw.wg.Add(1)
	go dw.processEvents()

	return nil
}

// addTree watches dir and all directories below it.
func (dw *DayWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := dw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (dw *DayWatcher) Stop() error {
	dw.mu.Lock()
	if !dw.running {
		dw.mu.Unlock()
		return dw.watcher.Close()
	}
	dw.running = false
	dw.mu.Unlock()

	close(dw.done)

	// Closing the fsnotify watcher unblocks the event loop
	if err := dw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	dw.wg.Wait()

	close(dw.events)
	close(dw.errors)

	return nil
}

// Events returns the channel that emits DayEvent notifications.
// This channel is closed when the watcher is stopped.
func (dw *DayWatcher) Events() <-chan DayEvent {
	return dw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (dw *DayWatcher) Errors() <-chan error {
	return dw.errors
}

// IsRunning returns true if the watcher is currently running.
func (dw *DayWatcher) IsRunning() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.running
}

func (dw *DayWatcher) processEvents() {
	defer dw.wg.Done()

	for {
		select {
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := dw.addTree(event.Name); err != nil {
						dw.sendError(err)
					}
					// Files written before the watch was added produce no
					// event of their own.
					dw.emitTree(event.Name)
					continue
				}
			}

			if dayEvent, ok := dw.convertEvent(event); ok {
				select {
				case dw.events <- dayEvent:
				case <-dw.done:
					return
				}
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.sendError(err)
		}
	}
}

func (dw *DayWatcher) sendError(err error) {
	select {
	case dw.errors <- err:
	case <-dw.done:
	}
}

// emitTree reports every day file already present under dir as created.
func (dw *DayWatcher) emitTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		day, ok := markdown.DayFromPath(dw.baseDir, path)
		if !ok {
			return nil
		}
		select {
		case dw.events <- DayEvent{Day: day, Path: path, Op: OpCreate}:
		case <-dw.done:
			return filepath.SkipAll
		}
		return nil
	})
}

// convertEvent converts an fsnotify event to a DayEvent.
// Returns (DayEvent, true) if the event names a day file,
// or (DayEvent{}, false) if the event should be ignored.
func (dw *DayWatcher) convertEvent(event fsnotify.Event) (DayEvent, bool) {
	day, ok := markdown.DayFromPath(dw.baseDir, event.Name)
	if !ok {
		return DayEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name, if still a day file, arrives as a create
		op = OpDelete
	default:
		// Ignore chmod and other events
		return DayEvent{}, false
	}

	return DayEvent{Day: day, Path: event.Name, Op: op}, true
}
