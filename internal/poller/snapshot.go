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

// Phase is the lifecycle of a poller, kept explicit so transitions are
// testable without timers.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePolling Phase = "polling"
	PhaseStopped Phase = "stopped"
)

// SnapshotFetcher fetches the current queue snapshot. Satisfied by
// *api.Client.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) (*domain.QueueSnapshot, error)
}

// SnapshotConfig holds tuning for a SnapshotPoller. Zero values fall back to
// the defaults below.
type SnapshotConfig struct {
	// ActiveInterval is used while the snapshot has pending or running work.
	ActiveInterval time.Duration
	// IdleInterval is used while the queue is quiet.
	IdleInterval time.Duration
	// Backoff configures both retry tracks.
	Backoff backoff.Config
	// Notify deduplicates the unavailable/recovered notifications across
	// pollers. Optional.
	Notify *notify.Coordinator
	Logger *slog.Logger
}

const (
	DefaultActiveInterval = time.Second
	DefaultIdleInterval   = 30 * time.Second
)

// SnapshotPoller periodically fetches the full queue snapshot and emits it
// to subscribers only when the state version advances. The next interval
// adapts to whether work is in flight; failures feed the backoff controller
// instead of surfacing to callers.
type SnapshotPoller struct {
	fetcher SnapshotFetcher
	cfg     SnapshotConfig
	logger  *slog.Logger

	stateStream  *events.Stream[*domain.QueueSnapshot]
	errorStream  *events.Stream[error]
	connStream   *events.Stream[domain.ConnectionState]
	statusStream *events.Stream[domain.ServiceStatus]

	// cycleMu keeps fetch cycles strictly sequential: the loop and Refresh
	// never run a fetch concurrently.
	cycleMu     sync.Mutex
	retry       *backoff.Controller
	lastVersion int64
	hasVersion  bool
	connected   bool
	lastSuccess time.Time

	mu      sync.Mutex
	phase   Phase
	cancel  context.CancelFunc
	done    chan struct{}
	refresh chan struct{}
}

// NewSnapshotPoller creates a poller in the idle phase.
func NewSnapshotPoller(fetcher SnapshotFetcher, cfg SnapshotConfig) *SnapshotPoller {
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = DefaultActiveInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotPoller{
		fetcher:      fetcher,
		cfg:          cfg,
		logger:       logger,
		stateStream:  events.NewStream[*domain.QueueSnapshot]("state", logger),
		errorStream:  events.NewStream[error]("error", logger),
		connStream:   events.NewStream[domain.ConnectionState]("connection", logger),
		statusStream: events.NewStream[domain.ServiceStatus]("service-status", logger),
		retry:        backoff.New(cfg.Backoff),
		phase:        PhaseIdle,
		refresh:      make(chan struct{}, 1),
	}
}

// SeedVersion marks version as already observed. Call before Start.
func (p *SnapshotPoller) SeedVersion(version int64) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	p.lastVersion = version
	p.hasVersion = true
}

// OnState subscribes to version-gated snapshot emissions.
func (p *SnapshotPoller) OnState(fn func(*domain.QueueSnapshot)) string {
	return p.stateStream.Subscribe(fn)
}

// OnError subscribes to generic fetch errors (not unavailable signals).
func (p *SnapshotPoller) OnError(fn func(error)) string {
	return p.errorStream.Subscribe(fn)
}

// OnConnection subscribes to connected/disconnected flips.
func (p *SnapshotPoller) OnConnection(fn func(domain.ConnectionState)) string {
	return p.connStream.Subscribe(fn)
}

// OnServiceStatus subscribes to unavailable/recovered flips.
func (p *SnapshotPoller) OnServiceStatus(fn func(domain.ServiceStatus)) string {
	return p.statusStream.Subscribe(fn)
}

// Phase returns the current lifecycle phase.
func (p *SnapshotPoller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Start begins the poll loop; the first fetch is issued immediately. Calling
// Start while already polling is a no-op.
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.phase == PhasePolling {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.phase = PhasePolling
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.run(loopCtx, done)
}

// Stop halts the poll loop. An in-flight fetch is cancelled and its result
// discarded without feeding backoff or the status streams. Idempotent, and
// safe before Start.
func (p *SnapshotPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.phase = PhaseStopped
}

// Wait blocks until the poll loop has exited. Returns immediately if the
// loop never started.
func (p *SnapshotPoller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Refresh forces one immediate fetch outside the schedule, e.g. right after
// a user-initiated retry/cancel/dismiss mutation. It works whether or not
// the loop is running and never waits for the result.
func (p *SnapshotPoller) Refresh(ctx context.Context) {
	p.mu.Lock()
	polling := p.phase == PhasePolling
	p.mu.Unlock()

	if polling {
		select {
		case p.refresh <- struct{}{}:
		default: // a refresh is already queued
		}
		return
	}
	go func() { p.cycle(ctx) }()
}

func (p *SnapshotPoller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		delay := p.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refresh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle issues one fetch, updates bookkeeping, notifies subscribers, and
// returns the delay before the next scheduled fetch.
func (p *SnapshotPoller) cycle(ctx context.Context) time.Duration {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	ctx, span := otel.Tracer("poller").Start(ctx, "poller.snapshot_cycle")
	defer span.End()

	start := time.Now()
	snap, err := p.fetcher.FetchSnapshot(ctx)
	telemetry.PollFetchDurationSeconds.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())

	if err != nil {
		// A stop cancels the loop context; the aborted fetch is discarded
		// without touching backoff or the status streams.
		if ctx.Err() != nil {
			return 0
		}
		return p.handleFetchError(err, span)
	}
	telemetry.PollCyclesTotal.WithLabelValues("snapshot", "success").Inc()
	span.SetAttributes(attribute.Int64("queue.version", snap.Version))

	p.noteSuccess()

	if !p.hasVersion || snap.Version != p.lastVersion {
		if p.hasVersion {
			telemetry.SnapshotVersionChanges.Inc()
		}
		p.lastVersion = snap.Version
		p.hasVersion = true

		counts := snap.Counts()
		telemetry.QueueEntries.WithLabelValues("pending").Set(float64(counts.Pending))
		telemetry.QueueEntries.WithLabelValues("running").Set(float64(counts.Running))
		telemetry.QueueEntries.WithLabelValues("failed").Set(float64(counts.Failed))

		p.stateStream.Publish(snap)
	}

	if snap.Active() {
		return p.cfg.ActiveInterval
	}
	return p.cfg.IdleInterval
}

// noteSuccess resets backoff and flips connection/service status after any
// successful fetch, version change or not.
func (p *SnapshotPoller) noteSuccess() {
	now := time.Now()
	p.lastSuccess = now
	if p.retry.Success() {
		if p.cfg.Notify != nil && p.cfg.Notify.Recovered() {
			telemetry.ServiceStatusNotifications.WithLabelValues("recovered").Inc()
		}
		p.statusStream.Publish(domain.ServiceStatus{Unavailable: false})
	}
	if !p.connected {
		p.connected = true
		p.connStream.Publish(domain.ConnectionState{Connected: true, LastSuccess: now})
	}
}

// handleFetchError classifies a failed fetch: unavailable conditions go to
// the dedicated backoff track and the service-status stream, everything else
// to ordinary backoff and the error stream. Nothing is ever re-raised to the
// caller.
func (p *SnapshotPoller) handleFetchError(err error, span trace.Span) time.Duration {
	span.RecordError(err)

	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		span.SetStatus(codes.Error, "service unavailable")
		telemetry.PollCyclesTotal.WithLabelValues("snapshot", "unavailable").Inc()

		delay, became := p.retry.Unavailable()
		if unavailable.StatusCode == 0 && p.connected {
			// Network-origin failure: the service did not even answer.
			p.connected = false
			p.connStream.Publish(domain.ConnectionState{Connected: false, LastSuccess: p.lastSuccess})
		}
		if became {
			p.statusStream.Publish(domain.ServiceStatus{Unavailable: true, Reason: unavailable.Reason})
			if p.cfg.Notify != nil && p.cfg.Notify.Unavailable(unavailable.Reason) {
				telemetry.ServiceStatusNotifications.WithLabelValues("unavailable").Inc()
			}
		}
		p.logger.Warn("queue poll: service unavailable",
			slog.String("reason", unavailable.Reason),
			slog.Duration("retry_in", delay),
		)
		return delay
	}

	span.SetStatus(codes.Error, "fetch failed")
	telemetry.PollCyclesTotal.WithLabelValues("snapshot", "error").Inc()
	delay := p.retry.Failure()
	p.logger.Error("queue poll failed",
		slog.String("error", err.Error()),
		slog.Duration("retry_in", delay),
	)
	p.errorStream.Publish(err)
	return delay
}
