package locations

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Locations []Entry `yaml:"locations"`
}

// LoadFile reads a YAML file of the form
//
//	locations:
//	  - {name: mail, x: -5, y: 10}
func LoadFile(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(filepath.Base(path), b)
}

func parse(name string, b []byte) ([]Entry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(f.Locations) == 0 {
		return nil, fmt.Errorf("%s: no locations", name)
	}
	if err := ValidateEntries(f.Locations); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f.Locations, nil
}

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a location file into a Table whenever it changes on disk.
// Bursts of events are coalesced; the file is read once they settle.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	table   *Table
	log     *log.Logger

	Events  chan string
	Errors  chan error
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches the directory holding path so that editors which save
// by rename are still seen.
func NewWatcher(path string, table *Table, logger *log.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	watcher := &Watcher{
		watcher: w,
		path:    abs,
		table:   table,
		log:     logger,
		Events:  make(chan string, 16),
		Errors:  make(chan error, 4),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(reloadDebounce)
			pending = true
		case <-timer.C:
			pending = false
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emitErr(err)
		case <-w.closeCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	entries, err := LoadFile(w.path)
	if err == nil {
		err = w.table.Replace(entries)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		if w.log != nil {
			w.log.Printf("locations reload failed: %v", err)
		}
		w.emitErr(err)
		return
	}
	if w.log != nil {
		w.log.Printf("locations reloaded: %d from %s", len(entries), w.path)
	}
	select {
	case w.Events <- w.path:
	default:
	}
}

func (w *Watcher) emitErr(err error) {
	select {
	case w.Errors <- err:
	default:
	}
}
