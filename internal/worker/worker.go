// Package worker runs the single classification goroutine.
package worker

import (
	"path/filepath"
	"time"

	"github.com/magicfolder/magicfolder/internal/brain"
	"github.com/magicfolder/magicfolder/internal/index"
	"github.com/magicfolder/magicfolder/internal/logging"
	"github.com/magicfolder/magicfolder/internal/metrics"
	"github.com/magicfolder/magicfolder/internal/pending"
)

// Worker drains the pending queue into classifier batches and applies the
// verdicts to the index. Exactly one Worker runs per driver; it is the
// only goroutine that touches the brain socket.
type Worker struct {
	idx        *index.Index
	queue      *pending.Queue
	brain      *brain.Client
	backingDir string
	debounce   time.Duration

	stop chan struct{}
	done chan struct{}
}

// New creates a worker. debounce is the coalescing pause before each
// drain (500 ms in production; tests shorten it).
func New(idx *index.Index, queue *pending.Queue, b *brain.Client, backingDir string, debounce time.Duration) *Worker {
	return &Worker{
		idx:        idx,
		queue:      queue,
		brain:      b,
		backingDir: backingDir,
		debounce:   debounce,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals shutdown and joins the worker. A batch in its debounce
// window is abandoned; names stay hidden per the rejection policy.
func (w *Worker) Stop() {
	close(w.stop)
	w.queue.Close()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	for {
		if !w.queue.Wait() {
			return
		}

		// Debounce: let co-arriving files coalesce into one batch and
		// give the kernel time to flush writes to the backing store.
		select {
		case <-w.stop:
			return
		case <-time.After(w.debounce):
		}

		batch := w.queue.Drain()
		metrics.SetQueueDepth(w.queue.Len())
		if len(batch) == 0 {
			continue
		}

		w.process(batch)
		w.queue.Forget(batch...)
	}
}

func (w *Worker) process(batch []string) {
	paths := make([]string, len(batch))
	for i, name := range batch {
		paths[i] = filepath.Join(w.backingDir, name)
	}

	logging.Debug("sending classification batch", logging.Int("files", len(batch)))

	start := time.Now()
	verdicts, err := w.brain.Classify(paths)
	metrics.RecordBatch(len(batch), time.Since(start), err == nil)

	if err != nil {
		logging.Error("classification batch failed",
			logging.Int("files", len(batch)), logging.Err(err))
		for _, name := range batch {
			w.idx.Reject(name)
		}
		metrics.RecordRejected(len(batch))
		metrics.SetHiddenFiles(w.idx.HiddenCount())
		return
	}

	rejected := 0
	for i, name := range batch {
		category := verdicts[paths[i]]
		if category != "" && w.idx.Categorize(name, category) {
			metrics.RecordClassified(category)
			metrics.SetCategoryFiles(category, w.idx.CategoryCount(category))
			logging.Info("file classified",
				logging.String("file", name), logging.String("category", category))
			continue
		}
		w.idx.Reject(name)
		rejected++
		logging.Warn("classifier returned no category", logging.String("file", name))
	}

	if rejected > 0 {
		metrics.RecordRejected(rejected)
	}
	metrics.SetHiddenFiles(w.idx.HiddenCount())
}
