package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is the minimum time between two minifications of the same script, editors often write a file more than once when saving.
const debounce = 100 * time.Millisecond

// Watcher is a wrapper for watching file changes in directories.
type Watcher struct {
	watcher   *fsnotify.Watcher
	dirs      map[string]bool
	paths     map[string]bool
	recursive bool

	mu     sync.Mutex
	ignore map[string]bool
}

// NewWatcher returns a new Watcher.
func NewWatcher(recursive bool) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   watcher,
		dirs:      map[string]bool{},
		paths:     map[string]bool{},
		recursive: recursive,
		ignore:    map[string]bool{},
	}, nil
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// IgnoreNext ignores the next change of a file, used to skip the change caused by writing the minified script.
func (w *Watcher) IgnoreNext(filename string) {
	if filename != "" {
		w.mu.Lock()
		w.ignore[filepath.Clean(filename)] = true
		w.mu.Unlock()
	}
}

func (w *Watcher) ignored(filename string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ignore[filename] {
		delete(w.ignore, filename)
		return true
	}
	return false
}

// AddPath adds a new path to watch.
func (w *Watcher) AddPath(root string) error {
	w.paths[filepath.Clean(root)] = true

	info, err := os.Lstat(root)
	if err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		root = filepath.Dir(root)
		if w.dirs[root] {
			return nil
		}
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.dirs[root] = true
	} else if info.Mode().IsDir() && w.recursive {
		return filepath.WalkDir(filepath.Clean(root), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if w.dirs[path] {
					return fs.SkipDir
				}
				if err := w.watcher.Add(path); err != nil {
					return err
				}
				w.dirs[path] = true
			}
			return nil
		})
	}
	return nil
}

// watched returns true if the file is one of the watched paths or lies inside a watched directory.
func (w *Watcher) watched(filename string) bool {
	filename = filepath.Clean(filename)
	for path := range w.paths {
		if path == filename {
			return true
		} else if IsDir(path) || w.dirs[path] {
			if rel, err := filepath.Rel(path, filename); err == nil && rel != ".." && !filepath.IsAbs(rel) && (len(rel) < 3 || rel[:3] != ".."+string(os.PathSeparator)) {
				return true
			}
		}
	}
	return false
}

// Run watches for file changes and sends the names of changed scripts.
func (w *Watcher) Run() chan string {
	files := make(chan string, 10)
	go func() {
		changetimes := map[string]time.Time{}
		for w.watcher.Events != nil && w.watcher.Errors != nil {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					w.watcher.Events = nil
					break
				} else if !w.watched(event.Name) {
					break
				}

				info, err := os.Lstat(event.Name)
				if err != nil {
					break
				}
				if info.Mode().IsDir() && w.recursive {
					if event.Op&fsnotify.Create == fsnotify.Create {
						if err := w.AddPath(event.Name); err != nil {
							Error.Println(err)
						}
					}
				} else if info.Mode().IsRegular() && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					name := filepath.Clean(event.Name)
					if w.ignored(name) {
						break
					}
					if t, ok := changetimes[name]; !ok || debounce < time.Since(t) {
						time.Sleep(debounce) // wait to make sure write is finished
						files <- name
						changetimes[name] = time.Now()
					}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					w.watcher.Errors = nil
					break
				}
				Error.Println(err)
			}
		}
		close(files)
	}()
	return files
}
