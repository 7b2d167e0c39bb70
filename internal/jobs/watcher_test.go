package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingJob signals every completed run
type countingJob struct {
	runs atomic.Int32
	done chan struct{}
}

func newCountingJob() *countingJob {
	return &countingJob{done: make(chan struct{}, 16)}
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	j.done <- struct{}{}
	return nil
}

func (j *countingJob) waitRun(t *testing.T) {
	t.Helper()
	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func startWatcher(t *testing.T, job Job, root string, debounce time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, NewWatcher(job, root, debounce).Start(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	// Let the watch list settle before the test touches files.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_RunsOnFileChange(t *testing.T) {
	root := t.TempDir()
	job := newCountingJob()
	startWatcher(t, job, root, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "france.txt"), []byte("Paris"), 0o644))
	job.waitRun(t)

	require.NoError(t, os.Remove(filepath.Join(root, "france.txt")))
	job.waitRun(t)

	assert.GreaterOrEqual(t, job.runs.Load(), int32(2))
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	job := newCountingJob()
	startWatcher(t, job, root, 300*time.Millisecond)

	for _, name := range []string{"a.txt", "b.txt", "c.md", "d.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0o644))
	}
	job.waitRun(t)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	job := newCountingJob()
	startWatcher(t, job, root, 50*time.Millisecond)

	sub := filepath.Join(root, "guides")
	require.NoError(t, os.Mkdir(sub, 0o755))
	job.waitRun(t)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "setup.md"), []byte("Run it."), 0o644))
	job.waitRun(t)
}

func TestWatcher_MissingRoot(t *testing.T) {
	err := NewWatcher(newCountingJob(), filepath.Join(t.TempDir(), "missing"), time.Second).Start(context.Background())
	assert.ErrorContains(t, err, "failed to watch")
}

func TestWatcher_HandleEvent(t *testing.T) {
	root := t.TempDir()
	fsw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fsw.Close()

	w := NewWatcher(newCountingJob(), root, time.Second)

	tests := []struct {
		name    string
		path    string
		op      fsnotify.Op
		changed bool
	}{
		{"create file", "doc.txt", fsnotify.Create, true},
		{"write file", "doc.txt", fsnotify.Write, true},
		{"remove file", "doc.txt", fsnotify.Remove, true},
		{"rename file", "doc.txt", fsnotify.Rename, true},
		{"write and chmod", "doc.txt", fsnotify.Write | fsnotify.Chmod, true},
		{"chmod only", "doc.txt", fsnotify.Chmod, false},
		{"hidden file", ".doc.txt.swp", fsnotify.Write, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := fsnotify.Event{Name: filepath.Join(root, tt.path), Op: tt.op}
			assert.Equal(t, tt.changed, w.handleEvent(fsw, event))
		})
	}
}
