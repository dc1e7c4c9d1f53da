package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressFunc receives the number of processed items, the total and a human readable label.
type ProgressFunc func(count, total int, label string)

// Job is a unit of work executed by a queue worker.
// Jobs may run more than once and must be safe to repeat.
type Job interface {
	Run(ctx context.Context, progress ProgressFunc) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context, progress ProgressFunc) error

func (f JobFunc) Run(ctx context.Context, progress ProgressFunc) error {
	return f(ctx, progress)
}

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	Push(job Job, description string, delay time.Duration) error
}

// Record is the observable state of a pushed job.
type Record struct {
	ID          int
	Description string
	Count       int
	Total       int
	Label       string
	Done        bool
	Err         error
}

type entry struct {
	id    int
	job   Job
	runAt time.Time
}

// DefaultHistory is the number of finished jobs a worker keeps records of.
const DefaultHistory = 100

type WorkerConfig struct {
	// Number of finished job records to keep. DefaultHistory is used if zero.
	History int
	// Logger to use. A console logger is created if nil.
	Logger *zerolog.Logger
}

// Worker runs pushed jobs one at a time in push order on a single goroutine.
type Worker struct {
	log     zerolog.Logger
	mu      sync.Mutex
	pending []entry
	records []Record
	lastID  int
	history int
	closed  bool
	signal  chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWorker(config WorkerConfig) *Worker {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	history := config.History
	if history <= 0 {
		history = DefaultHistory
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		log:     logger.With().Str("component", "job-queue").Logger(),
		history: history,
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Push enqueues the job. The job does not start before the delay has passed.
func (w *Worker) Push(job Job, description string, delay time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("job queue closed")
	}
	w.lastID++
	id := w.lastID
	w.records = append(w.records, Record{ID: id, Description: description})
	w.pending = append(w.pending, entry{id: id, job: job, runAt: time.Now().Add(delay)})
	w.wg.Add(1)
	w.mu.Unlock()

	w.log.Debug().Int("job", id).Str("description", description).Dur("delay", delay).Msg("Job pushed")
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until every pushed job has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Close stops accepting jobs, cancels the running job and waits for the worker to exit.
// Jobs still pending are marked as canceled.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.cancel()
	<-w.done
}

// Records returns a snapshot of the unfinished jobs and the most recently finished ones.
func (w *Worker) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	records := make([]Record, len(w.records))
	copy(records, w.records)
	return records
}

func (w *Worker) next() (entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return entry{}, false
	}
	e := w.pending[0]
	w.pending = w.pending[1:]
	return e, true
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		e, ok := w.next()
		if !ok {
			select {
			case <-w.ctx.Done():
				w.drain()
				return
			case <-w.signal:
				continue
			}
		}
		if wait := time.Until(e.runAt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-w.ctx.Done():
				timer.Stop()
				w.finish(e.id, w.ctx.Err())
				w.drain()
				return
			case <-timer.C:
			}
		}
		if w.ctx.Err() != nil {
			w.finish(e.id, w.ctx.Err())
			w.drain()
			return
		}
		w.run(e)
	}
}

func (w *Worker) drain() {
	for {
		e, ok := w.next()
		if !ok {
			return
		}
		w.finish(e.id, context.Canceled)
	}
}
func (w *Worker) run(e entry) {
	log := w.log.With().Int("job", e.id).Logger()
	log.Trace().Msg("Job started")
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return e.job.Run(w.ctx, func(count, total int, label string) {
			w.update(e.id, count, total, label)
		})
	}()
	if err != nil {
		log.Error().Err(err).Msg("Job failed")
	} else {
		log.Debug().Msg("Job done")
	}
	w.finish(e.id, err)
}

// record returns the record of a job. The caller must hold mu.
func (w *Worker) record(id int) *Record {
	for i := range w.records {
		if w.records[i].ID == id {
			return &w.records[i]
		}
	}
	return nil
}

func (w *Worker) update(id, count, total int, label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r := w.record(id); r != nil {
		r.Count, r.Total, r.Label = count, total, label
	}
}

func (w *Worker) finish(id int, err error) {
	w.mu.Lock()
	if r := w.record(id); r != nil {
		r.Done = true
		r.Err = err
	}
	w.prune()
	w.mu.Unlock()
	w.wg.Done()
}

// prune drops the oldest finished records beyond the history limit. The caller must hold mu.
func (w *Worker) prune() {
	finished := 0
	for _, r := range w.records {
		if r.Done {
			finished++
		}
	}
	if finished <= w.history {
		return
	}
	drop := finished - w.history
	kept := w.records[:0]
	for _, r := range w.records {
		if r.Done && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, r)
	}
	clear(w.records[len(kept):])
	w.records = kept
}
