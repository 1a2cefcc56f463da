package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
	"github.com/ramiqadoumi/go-poll-sync/internal/events"
	"github.com/ramiqadoumi/go-poll-sync/internal/notify"
	"github.com/ramiqadoumi/go-poll-sync/pkg/backoff"
	"github.com/ramiqadoumi/go-poll-sync/pkg/telemetry"
)

// LogFetcher fetches one batch of run logs. Satisfied by *api.Client.
type LogFetcher interface {
	FetchLogs(ctx context.Context, runID string, since int64, limit int) (*domain.LogBatch, error)
}

// RunCompletion is the single terminal event of a log poller, emitted only
// after every produced log line has been delivered.
type RunCompletion struct {
	RunID  string
	Status domain.RunStatus
	Error  string
}

// LogConfig holds tuning for a LogPoller.
type LogConfig struct {
	// Interval between fetches while the run is live. Much tighter than the
	// queue poller's active interval: log tailing needs near-real-time feel.
	Interval time.Duration
	// BatchLimit is the per-fetch line limit.
	BatchLimit int
	// StartIndex is the first index to request, e.g. a persisted cursor.
	StartIndex int64
	Backoff    backoff.Config
	Notify     *notify.Coordinator
	Logger     *slog.Logger
}

const (
	DefaultLogInterval   = 200 * time.Millisecond
	DefaultLogBatchLimit = 100
)

// LogPoller replays and then tails the append-only log of a single run: it
// starts at StartIndex, requests since=nextIndex until the run reports a
// terminal status AND every produced line has been fetched, and only then
// emits completion. One instance per run; never reused across runs.
type LogPoller struct {
	fetcher LogFetcher
	runID   string
	cfg     LogConfig
	logger  *slog.Logger

	logStream      *events.Stream[domain.LogEntry]
	completeStream *events.Stream[RunCompletion]
	layerStream    *events.Stream[map[string]string]
	errorStream    *events.Stream[error]

	cycleMu   sync.Mutex
	retry     *backoff.Controller
	nextIndex int64
	lastLayer map[string]string
	completed bool

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLogPoller creates a poller for runID. An empty run id is a programming
// error and fails fast.
func NewLogPoller(fetcher LogFetcher, runID string, cfg LogConfig) (*LogPoller, error) {
	if runID == "" {
		return nil, &domain.MissingRunIDError{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLogInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultLogBatchLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("run_id", runID))

	return &LogPoller{
		fetcher:        fetcher,
		runID:          runID,
		cfg:            cfg,
		logger:         logger,
		logStream:      events.NewStream[domain.LogEntry]("log", logger),
		completeStream: events.NewStream[RunCompletion]("complete", logger),
		layerStream:    events.NewStream[map[string]string]("layer-status", logger),
		errorStream:    events.NewStream[error]("error", logger),
		retry:          backoff.New(cfg.Backoff),
		nextIndex:      cfg.StartIndex,
		phase:          PhaseIdle,
	}, nil
}

// RunID returns the run this poller tails.
func (p *LogPoller) RunID() string { return p.runID }

// NextIndex returns the index the next fetch will request.
func (p *LogPoller) NextIndex() int64 {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	return p.nextIndex
}

// OnLog subscribes to individual log lines, delivered in index order.
func (p *LogPoller) OnLog(fn func(domain.LogEntry)) string {
	return p.logStream.Subscribe(fn)
}

// OnComplete subscribes to the single terminal completion event.
func (p *LogPoller) OnComplete(fn func(RunCompletion)) string {
	return p.completeStream.Subscribe(fn)
}

// OnLayerStatus subscribes to by-value changes of the layer-status map.
func (p *LogPoller) OnLayerStatus(fn func(map[string]string)) string {
	return p.layerStream.Subscribe(fn)
}

// OnError subscribes to generic fetch errors. Not-found and unavailable
// conditions are retried without surfacing here.
func (p *LogPoller) OnError(fn func(error)) string {
	return p.errorStream.Subscribe(fn)
}

// Phase returns the current lifecycle phase.
func (p *LogPoller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Start begins the replay+tail loop immediately. No-op while already
// polling or after completion.
func (p *LogPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.phase != PhaseIdle {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.phase = PhasePolling
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	telemetry.LogPollersActive.Inc()
	go p.run(loopCtx, done)
}

// Stop halts the loop without emitting completion. An in-flight fetch is
// cancelled and its result discarded. Idempotent, safe before Start.
func (p *LogPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *LogPoller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.phase = PhaseStopped
}

// Wait blocks until the loop has exited. Returns immediately if it never
// started.
func (p *LogPoller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *LogPoller) run(ctx context.Context, done chan struct{}) {
	defer telemetry.LogPollersActive.Dec()
	defer close(done)
	for {
		delay, finished := p.cycle(ctx)
		if finished {
			p.mu.Lock()
			p.stopLocked()
			p.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle performs one fetch and returns the delay before the next one, or
// finished=true once the terminal completion has been emitted.
func (p *LogPoller) cycle(ctx context.Context) (delay time.Duration, finished bool) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	if p.completed {
		return 0, true
	}

	ctx, span := otel.Tracer("poller").Start(ctx, "poller.log_cycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", p.runID),
		attribute.Int64("log.since", p.nextIndex),
	)

	start := time.Now()
	batch, err := p.fetcher.FetchLogs(ctx, p.runID, p.nextIndex, p.cfg.BatchLimit)
	telemetry.PollFetchDurationSeconds.WithLabelValues("log").Observe(time.Since(start).Seconds())

	if err != nil {
		// A stop cancels the loop context; the aborted fetch is discarded
		// without touching backoff or the status streams.
		if ctx.Err() != nil {
			return 0, false
		}
		return p.handleFetchError(err, span), false
	}
	telemetry.PollCyclesTotal.WithLabelValues("log", "success").Inc()
	if p.retry.Success() {
		if p.cfg.Notify != nil && p.cfg.Notify.Recovered() {
			telemetry.ServiceStatusNotifications.WithLabelValues("recovered").Inc()
		}
	}

	for _, line := range batch.Logs {
		telemetry.LogLinesTotal.Inc()
		p.logStream.Publish(line)
	}
	if batch.NextIndex > p.nextIndex {
		p.nextIndex = batch.NextIndex
	}

	if batch.LayerStatus != nil && !domain.LayerStatusEqual(batch.LayerStatus, p.lastLayer) {
		p.lastLayer = batch.LayerStatus
		p.layerStream.Publish(batch.LayerStatus)
	}

	// A terminal status alone is not completion: every produced line must
	// have been fetched first, or the tail of the log would be lost.
	if batch.Status.IsTerminal() && batch.Drained(p.nextIndex) {
		p.completed = true
		telemetry.RunsCompletedTotal.WithLabelValues(string(batch.Status)).Inc()
		p.logger.Info("run logs drained",
			slog.String("status", string(batch.Status)),
			slog.Int64("total_lines", batch.TotalCount),
		)
		p.completeStream.Publish(RunCompletion{
			RunID:  p.runID,
			Status: batch.Status,
			Error:  batch.Error,
		})
		return 0, true
	}

	return p.cfg.Interval, false
}

func (p *LogPoller) handleFetchError(err error, span trace.Span) time.Duration {
	span.RecordError(err)

	var notFound *domain.RunNotFoundError
	if errors.As(err, &notFound) {
		// Run not yet known to the server, or logs expired. Retry silently.
		span.SetStatus(codes.Error, "run not found")
		telemetry.PollCyclesTotal.WithLabelValues("log", "not_found").Inc()
		return p.retry.Failure()
	}

	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		span.SetStatus(codes.Error, "service unavailable")
		telemetry.PollCyclesTotal.WithLabelValues("log", "unavailable").Inc()
		delay, became := p.retry.Unavailable()
		if became && p.cfg.Notify != nil && p.cfg.Notify.Unavailable(unavailable.Reason) {
			telemetry.ServiceStatusNotifications.WithLabelValues("unavailable").Inc()
		}
		p.logger.Warn("log poll: service unavailable",
			slog.String("reason", unavailable.Reason),
			slog.Duration("retry_in", delay),
		)
		return delay
	}

	span.SetStatus(codes.Error, "fetch failed")
	telemetry.PollCyclesTotal.WithLabelValues("log", "error").Inc()
	delay := p.retry.Failure()
	p.logger.Error("log poll failed",
		slog.String("error", err.Error()),
		slog.Duration("retry_in", delay),
	)
	p.errorStream.Publish(err)
	return delay
}
