package watcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
	"github.com/ramiqadoumi/go-poll-sync/internal/events"
	"github.com/ramiqadoumi/go-poll-sync/internal/kafka"
	"github.com/ramiqadoumi/go-poll-sync/internal/poller"
	"github.com/ramiqadoumi/go-poll-sync/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-poll-sync/internal/redis"
	"github.com/ramiqadoumi/go-poll-sync/internal/state"
	"github.com/ramiqadoumi/go-poll-sync/pkg/telemetry"
)

// RunLog pairs a log line with the run that produced it, so one subscription
// can follow every tailed run.
type RunLog struct {
	RunID string
	Entry domain.LogEntry
}

// Watcher is the composition root: the snapshot poller feeds the
// reconciliation store, derived transitions fan out to subscribers and the
// optional sinks, and every run that starts gets its own log poller.
type Watcher struct {
	snapshots  *poller.SnapshotPoller
	logFetcher poller.LogFetcher
	store      *state.Store
	watcherID  string
	logCfg     poller.LogConfig
	logger     *slog.Logger

	cursors   redisstore.CursorStore
	history   postgres.TransitionHistory
	publisher kafka.Publisher

	transitions *events.Stream[domain.TransitionEvent]
	runLogs     *events.Stream[RunLog]
	completions *events.Stream[poller.RunCompletion]

	mu     sync.Mutex
	runCtx context.Context
	tails  map[string]*poller.LogPoller
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithCursorStore(cs redisstore.CursorStore) Option {
	return func(w *Watcher) { w.cursors = cs }
}
func WithHistory(h postgres.TransitionHistory) Option { return func(w *Watcher) { w.history = h } }
func WithPublisher(p kafka.Publisher) Option          { return func(w *Watcher) { w.publisher = p } }
func WithLogConfig(cfg poller.LogConfig) Option       { return func(w *Watcher) { w.logCfg = cfg } }
func WithLogger(l *slog.Logger) Option                { return func(w *Watcher) { w.logger = l } }

// New constructs a Watcher around an already-configured snapshot poller.
// The sinks (cursor store, history, kafka) are optional and best-effort.
func New(snapshots *poller.SnapshotPoller, logFetcher poller.LogFetcher, watcherID string, opts ...Option) *Watcher {
	w := &Watcher{
		snapshots:  snapshots,
		logFetcher: logFetcher,
		store:      state.NewStore(),
		watcherID:  watcherID,
		logger:     slog.Default(),
		tails:      make(map[string]*poller.LogPoller),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.transitions = events.NewStream[domain.TransitionEvent]("watcher.transitions", w.logger)
	w.runLogs = events.NewStream[RunLog]("watcher.run_logs", w.logger)
	w.completions = events.NewStream[poller.RunCompletion]("watcher.completions", w.logger)
	return w
}

// Store exposes the reconciled queue state for read-side consumers such as
// the mirror API.
func (w *Watcher) Store() *state.Store { return w.store }

// OnTransition subscribes to derived lifecycle events.
func (w *Watcher) OnTransition(fn func(domain.TransitionEvent)) string {
	return w.transitions.Subscribe(fn)
}

// OnRunLog subscribes to log lines from every tailed run.
func (w *Watcher) OnRunLog(fn func(RunLog)) string { return w.runLogs.Subscribe(fn) }

// OnRunComplete subscribes to terminal run events.
func (w *Watcher) OnRunComplete(fn func(poller.RunCompletion)) string {
	return w.completions.Subscribe(fn)
}

// Refresh asks the snapshot poller for an immediate fetch.
func (w *Watcher) Refresh(ctx context.Context) { w.snapshots.Refresh(ctx) }

// Run wires the subscriptions, starts the snapshot poller, and blocks until
// ctx is cancelled. All spawned log pollers are stopped before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.runCtx = ctx
	w.mu.Unlock()

	if w.cursors != nil {
		if v, ok, err := w.cursors.LoadVersion(ctx); err != nil {
			w.logger.Warn("load persisted queue version", slog.String("error", err.Error()))
		} else if ok {
			w.logger.Info("resuming watch", slog.Int64("last_seen_version", v))
		}
	}

	w.snapshots.OnState(func(snap *domain.QueueSnapshot) { w.applySnapshot(ctx, snap) })
	w.snapshots.OnError(func(err error) {
		w.logger.Warn("snapshot poll failed", slog.String("error", err.Error()))
	})
	w.snapshots.OnConnection(func(cs domain.ConnectionState) {
		if cs.Connected {
			w.logger.Info("service reachable")
		} else {
			w.logger.Warn("service unreachable")
		}
	})

	w.snapshots.Start(ctx)
	<-ctx.Done()

	w.snapshots.Stop()
	w.snapshots.Wait()
	w.stopTails()
	return ctx.Err()
}

// applySnapshot feeds one snapshot through the store and routes every
// derived transition to the streams, the sinks, and the log-poller pool.
func (w *Watcher) applySnapshot(ctx context.Context, snap *domain.QueueSnapshot) {
	transitions := w.store.Apply(snap)

	if w.cursors != nil {
		if err := w.cursors.SaveVersion(ctx, snap.Version); err != nil {
			w.logger.Warn("persist queue version", slog.String("error", err.Error()))
		}
	}
	counts := snap.Counts()
	w.logger.Debug("snapshot applied",
		slog.Int64("version", snap.Version),
		slog.Int("pending", counts.Pending),
		slog.Int("running", counts.Running),
		slog.Int("transitions", len(transitions)),
	)

	for _, ev := range transitions {
		telemetry.TransitionsTotal.WithLabelValues(string(ev.Kind)).Inc()
		w.transitions.Publish(ev)
		w.recordTransition(ctx, ev)

		if ev.Kind == domain.TransitionStarted && ev.RunID != "" {
			w.startTail(ev.RunID)
		}
	}
}

// recordTransition hands one event to the optional sinks. Sink failures are
// logged and counted, never propagated: the in-process streams are the
// primary delivery path.
func (w *Watcher) recordTransition(ctx context.Context, ev domain.TransitionEvent) {
	if w.history != nil {
		if err := w.history.Record(ctx, w.watcherID, ev); err != nil {
			telemetry.SinkPublishTotal.WithLabelValues("postgres", "error").Inc()
			w.logger.Error("record transition history",
				slog.String("job_id", ev.JobID),
				slog.String("error", err.Error()),
			)
		} else {
			telemetry.SinkPublishTotal.WithLabelValues("postgres", "ok").Inc()
		}
	}
	if w.publisher != nil {
		if err := w.publisher.PublishTransition(ctx, ev); err != nil {
			telemetry.SinkPublishTotal.WithLabelValues("kafka", "error").Inc()
			w.logger.Error("publish transition",
				slog.String("job_id", ev.JobID),
				slog.String("error", err.Error()),
			)
		} else {
			telemetry.SinkPublishTotal.WithLabelValues("kafka", "ok").Inc()
		}
	}
}

// startTail spawns a log poller for a freshly started run. A second started
// transition for the same run id (duplicate snapshot diff) is a no-op.
func (w *Watcher) startTail(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.tails[runID]; exists {
		return
	}
	ctx := w.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}

	cfg := w.logCfg
	cfg.Logger = w.logger
	fetcher := w.logFetcher
	if w.cursors != nil {
		if idx, err := w.cursors.LoadRunCursor(ctx, runID); err != nil {
			w.logger.Warn("load run cursor", slog.String("run_id", runID), slog.String("error", err.Error()))
		} else {
			cfg.StartIndex = idx
		}
		fetcher = &cursorTrackingFetcher{inner: fetcher, cursors: w.cursors, logger: w.logger}
	}

	lp, err := poller.NewLogPoller(fetcher, runID, cfg)
	if err != nil {
		w.logger.Error("spawn log poller", slog.String("run_id", runID), slog.String("error", err.Error()))
		return
	}
	lp.OnLog(func(entry domain.LogEntry) {
		w.runLogs.Publish(RunLog{RunID: runID, Entry: entry})
	})
	lp.OnComplete(func(rc poller.RunCompletion) { w.finishTail(ctx, rc) })
	lp.OnError(func(err error) {
		w.logger.Warn("log poll failed", slog.String("run_id", runID), slog.String("error", err.Error()))
	})

	w.tails[runID] = lp
	lp.Start(ctx)
	w.logger.Info("tailing run", slog.String("run_id", runID), slog.Int64("start_index", cfg.StartIndex))
}

// finishTail runs on the log poller's own goroutine after terminal emission.
func (w *Watcher) finishTail(ctx context.Context, rc poller.RunCompletion) {
	w.mu.Lock()
	delete(w.tails, rc.RunID)
	w.mu.Unlock()

	if w.cursors != nil {
		if err := w.cursors.DeleteRunCursor(ctx, rc.RunID); err != nil {
			w.logger.Warn("delete run cursor", slog.String("run_id", rc.RunID), slog.String("error", err.Error()))
		}
	}
	w.logger.Info("run finished",
		slog.String("run_id", rc.RunID),
		slog.String("status", string(rc.Status)),
	)
	w.completions.Publish(rc)
}

func (w *Watcher) stopTails() {
	w.mu.Lock()
	tails := make([]*poller.LogPoller, 0, len(w.tails))
	for _, lp := range w.tails {
		tails = append(tails, lp)
	}
	w.mu.Unlock()

	for _, lp := range tails {
		lp.Stop()
	}
	for _, lp := range tails {
		lp.Wait()
	}
}

// Tails reports the run ids currently being tailed.
func (w *Watcher) Tails() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.tails))
	for id := range w.tails {
		ids = append(ids, id)
	}
	return ids
}

// cursorTrackingFetcher decorates a LogFetcher so the advancing cursor is
// persisted after every successful fetch. Save failures never fail the fetch.
type cursorTrackingFetcher struct {
	inner   poller.LogFetcher
	cursors redisstore.CursorStore
	logger  *slog.Logger
}

func (f *cursorTrackingFetcher) FetchLogs(ctx context.Context, runID string, since int64, limit int) (*domain.LogBatch, error) {
	batch, err := f.inner.FetchLogs(ctx, runID, since, limit)
	if err != nil {
		return nil, err
	}
	if batch.NextIndex > since {
		if saveErr := f.cursors.SaveRunCursor(ctx, runID, batch.NextIndex); saveErr != nil {
			f.logger.Warn("persist run cursor", slog.String("run_id", runID), slog.String("error", saveErr.Error()))
		}
	}
	return batch, nil
}
