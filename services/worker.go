package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/waops/wadispatch/apperror"
	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

// JobSource delivers raw job payloads until the context is cancelled.
type JobSource interface {
	Consume(ctx context.Context, handler func(context.Context, []byte)) error
}

// JobDispatcher sends one job and returns the provider message ID.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job models.Job) (string, error)
}

// DeadLetterPublisher records terminally failed jobs.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error
}

// Worker consumes the job queue and drives the dispatcher. Concurrency is
// bounded by a weighted semaphore so a publish burst cannot fan out into an
// unbounded number of in-flight API calls. Transient upstream errors are
// retried with exponential backoff and full jitter up to MaxAttempts; every
// terminal failure goes to the DLQ, best effort.
type Worker struct {
	cfg        config.WorkerConfig
	source     JobSource
	dispatcher JobDispatcher
	dlq        DeadLetterPublisher
	metrics    *Metrics
	log        logrus.FieldLogger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand
}

func NewWorker(cfg config.WorkerConfig, source JobSource, dispatcher JobDispatcher, dlq DeadLetterPublisher, metrics *Metrics, log logrus.FieldLogger) *Worker {
	return &Worker{
		cfg:        cfg,
		source:     source,
		dispatcher: dispatcher,
		dlq:        dlq,
		metrics:    metrics,
		log:        log,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is cancelled or the source closes, then waits for
// handler goroutines to return. Cancellation propagates into in-flight
// dispatches, which abort rather than finish.
func (w *Worker) Run(ctx context.Context) error {
	err := w.source.Consume(ctx, w.handleMessage)
	w.wg.Wait()
	return err
}

// handleMessage parses a raw payload and hands it to an async handler. A
// payload that does not parse is logged and dropped; the publisher gets no
// signal either way.
func (w *Worker) handleMessage(ctx context.Context, raw []byte) {
	w.log.WithField("bytes", len(raw)).Info("Job received")

	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		w.log.WithError(err).Error("Dropping unparseable job payload")
		w.metrics.JobsTotal.WithLabelValues("dropped").Inc()
		w.metrics.JobsFailed.WithLabelValues("parse").Inc()
		return
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.log.WithError(err).Warn("Shutting down before job could be scheduled")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.processJob(ctx, job)
	}()
}

func (w *Worker) processJob(ctx context.Context, job models.Job) {
	startTime := time.Now()

	log := w.log.WithFields(logrus.Fields{
		"contact_ref": job.ContactRef,
		"template":    job.TemplateName,
	})

	w.metrics.ActiveJobs.Inc()
	defer w.metrics.ActiveJobs.Dec()

	attempt := 1
	for {
		msgID, err := w.dispatchOnce(ctx, job)
		if err == nil {
			w.metrics.JobsTotal.WithLabelValues("sent").Inc()
			w.metrics.DispatchDuration.Observe(time.Since(startTime).Seconds())
			log.WithFields(logrus.Fields{
				"message_id": msgID,
				"attempt":    attempt,
				"duration":   time.Since(startTime),
			}).Info("Job dispatched")
			return
		}

		if errors.Is(err, context.Canceled) {
			log.Warn("Job abandoned on shutdown")
			return
		}

		if apperror.IsTransient(err) && attempt < w.cfg.MaxAttempts {
			backoff := w.computeBackoff(attempt)
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
			}).Warn("Transient dispatch failure, retrying")
			w.metrics.RetriesTotal.Inc()
			if !sleep(ctx, backoff) {
				return
			}
			attempt++
			continue
		}

		errType := apperror.TypeOf(err)
		w.metrics.JobsTotal.WithLabelValues("failed").Inc()
		w.metrics.JobsFailed.WithLabelValues(errType).Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"error_type": errType,
			"attempts":   attempt,
			"duration":   time.Since(startTime),
		}).Error("Job failed")

		w.publishDeadLetter(ctx, job, err, errType, attempt)
		return
	}
}

func (w *Worker) dispatchOnce(ctx context.Context, job models.Job) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	return w.dispatcher.Dispatch(attemptCtx, job)
}

func (w *Worker) publishDeadLetter(ctx context.Context, job models.Job, cause error, errType string, attempts int) {
	if w.dlq == nil {
		return
	}
	dl := models.DeadLetter{
		Job:       job,
		Reason:    cause.Error(),
		ErrorType: errType,
		Attempts:  attempts,
		FailedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.dlq.PublishDeadLetter(ctx, dl); err != nil {
		w.log.WithError(err).Error("Failed to publish dead letter")
		return
	}
	w.metrics.DLQPublished.Inc()
}

// computeBackoff doubles the base per attempt, caps it, then applies full
// jitter.
func (w *Worker) computeBackoff(attempt int) time.Duration {
	if w.cfg.BaseBackoff <= 0 {
		return 0
	}
	raw := time.Duration(float64(w.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if w.cfg.MaxBackoff > 0 && raw > w.cfg.MaxBackoff {
		raw = w.cfg.MaxBackoff
	}

	w.randMu.Lock()
	defer w.randMu.Unlock()
	return time.Duration(w.rnd.Int63n(int64(raw) + 1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
