package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waops/wadispatch/apperror"
	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

// promauto registers into the default registry, so the test binary gets one
// shared Metrics instance.
var (
	metricsOnce sync.Once
	testMetrics *Metrics
)

func metricsForTest() *Metrics {
	metricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

type staticSource struct {
	payloads [][]byte
}

func (s *staticSource) Consume(ctx context.Context, handler func(context.Context, []byte)) error {
	for _, p := range s.payloads {
		handler(ctx, p)
	}
	return nil
}

type scriptedDispatcher struct {
	mu    sync.Mutex
	errs  []error // consumed one per call; nil entry means success
	calls int
	jobs  []models.Job
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, job models.Job) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.jobs = append(d.jobs, job)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "wamid.ok", nil
}

type dlqRecorder struct {
	mu      sync.Mutex
	letters []models.DeadLetter
}

func (r *dlqRecorder) PublishDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return nil
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency: 4,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		SendTimeout: time.Second,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestWorkerDispatchesParsedJob(t *testing.T) {
	job := models.Job{RecipientPhone: "+15551234567", TextBody: "Hi there"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}
	dispatcher := &scriptedDispatcher{}
	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, dispatcher.calls)
	assert.Equal(t, job, dispatcher.jobs[0])
	assert.Empty(t, dlq.letters)
}

func TestWorkerDropsUnparseablePayload(t *testing.T) {
	source := &staticSource{payloads: [][]byte{[]byte("not-json{")}}
	dispatcher := &scriptedDispatcher{}
	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Zero(t, dispatcher.calls)
	assert.Empty(t, dlq.letters)
}

func TestWorkerRetriesTransientErrors(t *testing.T) {
	job := models.Job{RecipientPhone: "+15551234567", TextBody: "Hi"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}
	transient := apperror.Upstream("send_text", 503, errors.New("unavailable"))
	dispatcher := &scriptedDispatcher{errs: []error{transient, transient, nil}}
	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 3, dispatcher.calls)
	assert.Empty(t, dlq.letters)
}

func TestWorkerDeadLettersPermanentFailure(t *testing.T) {
	job := models.Job{RecipientPhone: "+15551234567", TemplateName: "welcome"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}
	permanent := apperror.Upstream("send_template", 400, errors.New("unknown template"))
	dispatcher := &scriptedDispatcher{errs: []error{permanent}}
	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, dispatcher.calls, "permanent failures must not retry")
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, job, dlq.letters[0].Job)
	assert.Equal(t, "upstream", dlq.letters[0].ErrorType)
	assert.Equal(t, 1, dlq.letters[0].Attempts)
}

func TestWorkerDeadLettersExhaustedRetries(t *testing.T) {
	job := models.Job{RecipientPhone: "+15551234567", TextBody: "Hi"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}
	transient := apperror.Upstream("send_text", 0, errors.New("connection refused"))
	dispatcher := &scriptedDispatcher{errs: []error{transient, transient, transient}}
	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 3, dispatcher.calls)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, 3, dlq.letters[0].Attempts)
}

func TestWorkerBoundsConcurrency(t *testing.T) {
	const jobs = 20
	cfg := workerConfig()
	cfg.Concurrency = 2

	payloads := make([][]byte, jobs)
	for i := range payloads {
		payloads[i] = mustJSON(t, models.Job{RecipientPhone: "+15551234567", TextBody: "Hi"})
	}

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	dispatcher := dispatchFunc(func(ctx context.Context, job models.Job) (string, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return "wamid.ok", nil
	})

	w := NewWorker(cfg, &staticSource{payloads: payloads}, dispatcher, &dlqRecorder{}, metricsForTest(), testLogger())
	require.NoError(t, w.Run(context.Background()))

	assert.LessOrEqual(t, maxSeen, 2)
}

func TestWorkerEnforcesSendTimeout(t *testing.T) {
	cfg := workerConfig()
	cfg.SendTimeout = 5 * time.Millisecond
	cfg.MaxAttempts = 2

	job := models.Job{RecipientPhone: "+15551234567", TextBody: "Hi"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}

	var (
		mu    sync.Mutex
		calls int
	)
	// Hangs like a stuck upstream HTTP call until the per-attempt deadline
	// releases it, then reports the transport failure the way the client
	// does.
	dispatcher := dispatchFunc(func(ctx context.Context, job models.Job) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return "", apperror.Upstream("send_text", 0, ctx.Err())
	})

	dlq := &dlqRecorder{}
	w := NewWorker(cfg, source, dispatcher, dlq, metricsForTest(), testLogger())

	start := time.Now()
	require.NoError(t, w.Run(context.Background()))

	assert.Less(t, time.Since(start), time.Second, "hung dispatches must be cut off by the send timeout")
	assert.Equal(t, 2, calls, "a timed-out attempt is transient and retried")
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, 2, dlq.letters[0].Attempts)
}

func TestWorkerAbandonsInFlightJobOnShutdown(t *testing.T) {
	job := models.Job{RecipientPhone: "+15551234567", TextBody: "Hi"}
	source := &staticSource{payloads: [][]byte{mustJSON(t, job)}}

	started := make(chan struct{})
	dispatcher := dispatchFunc(func(ctx context.Context, job models.Job) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	dlq := &dlqRecorder{}
	w := NewWorker(workerConfig(), source, dispatcher, dlq, metricsForTest(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	require.NoError(t, w.Run(ctx))

	assert.Empty(t, dlq.letters, "abandoned jobs are not dead-lettered")
}

type dispatchFunc func(ctx context.Context, job models.Job) (string, error)

func (f dispatchFunc) Dispatch(ctx context.Context, job models.Job) (string, error) {
	return f(ctx, job)
}
