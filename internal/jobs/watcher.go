package jobs

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/telemetry"
	"github.com/fsnotify/fsnotify"
)

// Watcher runs a Job when files under a directory change. Events that arrive
// within the debounce window of each other collapse into a single run.
type Watcher struct {
	job      Job
	root     string
	debounce time.Duration
}

// NewWatcher creates a Watcher for the directory tree at root
func NewWatcher(job Job, root string, debounce time.Duration) *Watcher {
	return &Watcher{
		job:      job,
		root:     root,
		debounce: debounce,
	}
}

// Start watches the tree and blocks until ctx is done. Runs happen on the
// watch goroutine, so events during a run only schedule the next one.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := watchTree(fsw, w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	log.Printf("watcher %s started on %s (debounce %v)", w.job.Name(), w.root, w.debounce)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("watcher %s stopped", w.job.Name())
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(fsw, event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher %s: %v", w.job.Name(), err)

		case <-fire:
			fire = nil
			start := time.Now()
			if err := w.job.Run(ctx); err != nil {
				log.Printf("watcher %s: run failed after %v: %v", w.job.Name(), time.Since(start).Round(time.Millisecond), err)
				telemetry.CaptureError(ctx, err)
			}
		}
	}
}

// handleEvent reports whether event changes the document set. New
// directories are added to the watch list since fsnotify is not recursive.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	if isHidden(event.Name) {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watchTree(fsw, event.Name); err != nil {
				log.Printf("watcher %s: failed to watch %s: %v", w.job.Name(), event.Name, err)
			}
		}
	}
	return true
}

func watchTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && isHidden(p) {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func isHidden(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}
