// Package library scans and watches a directory of book archives. Newly
// discovered books are handed to the preloader so a later open is served
// from a warm parse.
package library

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Preloader receives paths of discovered books.
type Preloader interface {
	Preload(path string)
}

// Book is one discovered archive.
type Book struct {
	Path string
	Name string
	Size int64
}

// Scanner lists the supported archives in a library directory and can watch
// it for additions.
type Scanner struct {
	dir       string
	preloader Preloader
	logger    *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewScanner creates a scanner over dir. preloader may be nil to disable
// speculative loading.
func NewScanner(dir string, preloader Preloader, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{dir: dir, preloader: preloader, logger: logger}
}

// supportedExt reports archive extensions the format engines handle.
func supportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".epub", ".mobi":
		return true
	}
	return false
}

// Scan lists the library's books sorted by name.
func (s *Scanner) Scan(ctx context.Context) ([]Book, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var books []Book
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !supportedExt(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		books = append(books, Book{
			Path: filepath.Join(s.dir, entry.Name()),
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Size: info.Size(),
		})
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Name < books[j].Name })
	return books, nil
}

// Watch starts watching the library directory. Created or renamed-in books
// are preloaded. Returns immediately; stop with Close.
func (s *Scanner) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("library watch error", "error", err)
			case <-done:
				return
			}
		}
	}()
	return nil
}

func (s *Scanner) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	if !supportedExt(event.Name) {
		return
	}
	s.logger.Debug("library addition", "path", event.Name)
	if s.preloader != nil {
		s.preloader.Preload(event.Name)
	}
}

// Close stops the watcher. Safe to call without a prior Watch.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
