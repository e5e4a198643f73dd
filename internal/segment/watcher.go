package segment

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Event reports a segment file that appeared in the watched directory.
type Event struct {
	Name     string
	Path     string
	Sequence uint64
	Time     time.Time
}

// Watcher observes the output directory and emits an Event whenever a new
// segment file is created. The creation of segment N also means segment N-1
// has been closed by the capture process.
type Watcher struct {
	dir    string
	naming Naming
	events chan Event
	log    *logger.Logger
}

// NewWatcher creates a watcher for dir. Events are buffered; when the reader
// falls behind, events are dropped rather than blocking fsnotify.
func NewWatcher(dir string, naming Naming) *Watcher {
	return &Watcher{
		dir:    dir,
		naming: naming,
		events: make(chan Event, 16),
		log:    logger.GetLogger(),
	}
}

// Events returns the channel new segments are reported on. It is closed
// when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create directory watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.log.Debug("[watcher] Watching %s for new segments", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			seq, err := w.naming.Parse(name)
			if err != nil {
				continue
			}
			w.log.Debug("[watcher] New segment: %s", name)
			select {
			case w.events <- Event{Name: name, Path: ev.Name, Sequence: seq, Time: time.Now()}:
			default:
				w.log.Debug("[watcher] Event queue full, dropping %s", name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("[watcher] Watch error: %v", err)
		}
	}
}
