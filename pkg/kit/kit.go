package kit

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rzbill/historykit/pkg/log"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultMaximumDuration = 7 * 24 * time.Hour
	DefaultKeyPrefix       = "historykit.last."
)

// Options configures a Kit. History, Signals and KV are required.
type Options struct {
	// CurrentAuthor is the identity this kit merges as.
	CurrentAuthor string
	// Authors is every identity sharing the history, CurrentAuthor included.
	Authors []string
	// BatchAuthors only write; they are ignored when computing the watermark.
	BatchAuthors []string

	IncludeMirroring       bool
	IncludeOwnTransactions bool
	// Filter is an optional CEL expression applied to fetched transactions.
	Filter string

	History  History
	Signals  SignalSource
	KV       KV
	Contexts []Context

	// MaximumDuration bounds how long a silent author can hold back cleanup.
	MaximumDuration time.Duration
	// KeyPrefix namespaces timestamp records in KV.
	KeyPrefix string
	// Strategy defaults to PurgeByNotification(1).
	Strategy PurgeStrategy

	// Verbosity gates logging: 0 silent, 1 lifecycle, 2 cycles, 3 detail.
	Verbosity int
	Logger    log.Logger
	Metrics   Metrics
	Observer  Observer
	Clock     Clock
	AutoStart bool
}

// CycleReport summarises one processing cycle.
type CycleReport struct {
	Cycle     uint64
	Since     time.Time
	Fetched   int
	Through   time.Time
	Cleaned   bool
	Deleted   int
	Watermark time.Time
	// Err combines every failure logged during the cycle.
	Err error
}

// Kit owns one processing task that merges new history transactions into
// its contexts and periodically reclaims consumed ones.
type Kit struct {
	id         string
	opts       Options
	timestamps *TimestampManager
	fetcher    *Fetcher
	merger     *Merger
	cleaner    *Cleaner
	strategy   PurgeStrategy
	metrics    Metrics
	log        gate

	cycleMu sync.Mutex
	cycles  atomic.Uint64

	// lifecycle serializes Start and Stop, including Stop's wait for the
	// task to exit.
	lifecycle sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates opts and builds a Kit. Invalid options return an error
// marked ErrConfiguration.
func New(opts Options) (*Kit, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	id := uuid.NewString()
	g := gate{l: opts.Logger.With(log.Component("historykit"), log.Str(log.KitKey, id[:8]), log.Str(log.AuthorKey, opts.CurrentAuthor)), verbosity: opts.Verbosity}

	fetcher, err := NewFetcher(opts.History, FetcherOptions{
		CurrentAuthor:          opts.CurrentAuthor,
		Authors:                opts.Authors,
		IncludeOwnTransactions: opts.IncludeOwnTransactions,
		IncludeMirroring:       opts.IncludeMirroring,
		Filter:                 opts.Filter,
	})
	if err != nil {
		return nil, err
	}

	k := &Kit{
		id:   id,
		opts: opts,
		timestamps: NewTimestampManager(opts.KV, opts.KeyPrefix, opts.MaximumDuration,
			WithTimestampClock(opts.Clock), WithTimestampLogger(g.l, opts.Verbosity)),
		fetcher:  fetcher,
		merger:   &Merger{log: g},
		cleaner:  NewCleaner(opts.History, opts.Authors),
		strategy: opts.Strategy,
		metrics:  opts.Metrics,
		log:      g,
	}
	if _, err := k.timestamps.Start(context.Background()); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "timestamp store unavailable"), ErrConfiguration)
	}
	if opts.AutoStart {
		k.Start()
	}
	return k, nil
}

func validate(opts *Options) error {
	if opts.CurrentAuthor == "" {
		return configErrorf("CurrentAuthor is required")
	}
	if opts.History == nil || opts.Signals == nil || opts.KV == nil {
		return configErrorf("History, Signals and KV are required")
	}
	all := make(map[string]struct{}, len(opts.Authors))
	for _, a := range opts.Authors {
		if a == "" || a == startKeySuffix {
			return configErrorf("invalid author id %q", a)
		}
		all[a] = struct{}{}
	}
	if _, ok := all[opts.CurrentAuthor]; !ok {
		return configErrorf("CurrentAuthor %q must be listed in Authors", opts.CurrentAuthor)
	}
	for _, b := range opts.BatchAuthors {
		if _, ok := all[b]; !ok {
			return configErrorf("batch author %q must be listed in Authors", b)
		}
		if b == opts.CurrentAuthor {
			return configErrorf("CurrentAuthor %q cannot be a batch author", b)
		}
	}
	for i, c := range opts.Contexts {
		if c == nil {
			return configErrorf("context %d is nil", i)
		}
	}
	if opts.MaximumDuration < 0 {
		return configErrorf("MaximumDuration must not be negative, got %s", opts.MaximumDuration)
	}
	if opts.MaximumDuration == 0 {
		opts.MaximumDuration = DefaultMaximumDuration
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Strategy == nil {
		opts.Strategy = PurgeByNotification(1)
	}
	if v, ok := opts.Strategy.(validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if opts.Verbosity < 0 {
		return configErrorf("Verbosity must not be negative")
	}
	return nil
}

// ID identifies this kit instance in logs.
func (k *Kit) ID() string { return k.id }

// Timestamps exposes the kit's TimestampManager.
func (k *Kit) Timestamps() *TimestampManager { return k.timestamps }

// Running reports whether the processing task is active.
func (k *Kit) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.activeLocked()
}

func (k *Kit) activeLocked() bool {
	if k.done == nil {
		return false
	}
	select {
	case <-k.done:
		return false
	default:
		return true
	}
}

// Start launches the processing task. It is a no-op when one is running.
// A Start racing a Stop waits for the stopped task to exit first.
func (k *Kit) Start() {
	k.lifecycle.Lock()
	defer k.lifecycle.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.activeLocked() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	signals, unsubscribe := k.opts.Signals.Subscribe()
	q := newSignalQueue(signals)
	done := make(chan struct{})
	k.cancel, k.done = cancel, done
	go k.run(ctx, q, unsubscribe, done)
}

// Stop cancels the processing task and waits for it to exit. A cycle in
// flight runs to completion first.
func (k *Kit) Stop() {
	k.lifecycle.Lock()
	defer k.lifecycle.Unlock()
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	k.mu.Lock()
	k.cancel, k.done = nil, nil
	k.mu.Unlock()
}

// Close stops the kit. Contexts and stores are not closed.
func (k *Kit) Close() error {
	k.Stop()
	return nil
}

func (k *Kit) run(ctx context.Context, q *signalQueue, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()
	defer q.close()

	k.log.info(VerbosityLifecycle, "history processing started",
		log.Int("authors", len(k.opts.Authors)),
		log.Int("contexts", len(k.opts.Contexts)),
		log.Str("strategy", k.strategy.String()))
	for {
		select {
		case <-ctx.Done():
			k.log.info(VerbosityLifecycle, "history processing stopped", log.Int64("cycles", int64(k.cycles.Load())))
			return
		case sig, ok := <-q.out:
			if !ok {
				k.log.warn(VerbosityLifecycle, "signal source closed; history processing stopped")
				return
			}
			if ctx.Err() != nil {
				k.log.info(VerbosityLifecycle, "history processing stopped", log.Int64("cycles", int64(k.cycles.Load())))
				return
			}
			k.log.debug(VerbosityDetail, "change signal", log.Str("from", sig.Author), log.Time("at", sig.Timestamp))
			k.ProcessCycle(context.WithoutCancel(ctx))
		}
	}
}

// ProcessCycle runs one fetch, merge and maybe-clean pass. Failures are
// logged and reported, never propagated as panics or loop exits.
func (k *Kit) ProcessCycle(ctx context.Context) CycleReport {
	k.cycleMu.Lock()
	defer k.cycleMu.Unlock()

	started := k.opts.Clock()
	rep := CycleReport{Cycle: k.cycles.Add(1)}
	g := k.log.with(log.Int64(log.CycleKey, int64(rep.Cycle)))
	fail := func(stage string, err error, msg string) {
		k.metrics.ObserveError(stage)
		g.error(VerbosityLifecycle, msg, log.Str("stage", stage), log.Err(err))
		rep.Err = errors.CombineErrors(rep.Err, err)
	}

	since, err := k.timestamps.LastTimestamp(ctx, k.opts.CurrentAuthor)
	if err != nil {
		fail(StageTimestamps, err, "load last timestamp failed")
		return rep
	}
	rep.Since = since

	batch, err := k.fetcher.Fetch(ctx, since)
	if err != nil {
		fail(StageFetch, err, "fetch failed")
		return rep
	}
	rep.Fetched = len(batch)
	if len(batch) == 0 {
		g.debug(VerbosityDetail, "no new transactions", log.Time("since", since))
		k.metrics.ObserveCycle(0, k.opts.Clock().Sub(started))
		return rep
	}

	if k.opts.Observer != nil {
		if err := k.observe(ctx, batch); err != nil {
			fail(StageObserve, err, "observer failed")
		}
	}

	if err := k.merger.Merge(ctx, batch, k.opts.Contexts); err != nil {
		k.metrics.ObserveError(StageMerge)
		rep.Err = errors.CombineErrors(rep.Err, err)
	}

	rep.Through = batch[len(batch)-1].Timestamp
	if err := k.timestamps.UpdateLastTimestamp(ctx, k.opts.CurrentAuthor, rep.Through); err != nil {
		fail(StageTimestamps, err, "update last timestamp failed")
	}

	if k.strategy.AllowedToClean() {
		rep.Cleaned = true
		rep.Deleted, rep.Watermark, err = k.cleanOnce(ctx, g)
		if err != nil {
			fail(StageClean, err, "clean failed")
		}
	}

	k.metrics.ObserveCycle(len(batch), k.opts.Clock().Sub(started))
	g.info(VerbosityCycle, "cycle complete",
		log.Int("fetched", rep.Fetched),
		log.Time("through", rep.Through),
		log.Bool("cleaned", rep.Cleaned),
		log.Int("deleted", rep.Deleted))
	return rep
}

func (k *Kit) observe(ctx context.Context, batch []Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("observer panic: %v\n%s", r, debug.Stack())
		}
	}()
	k.opts.Observer(ctx, append([]Transaction(nil), batch...))
	return nil
}

// cleanOnce computes the watermark and deletes below it.
func (k *Kit) cleanOnce(ctx context.Context, g gate) (int, time.Time, error) {
	wm, err := k.timestamps.CommonSafeTimestamp(ctx, k.opts.Authors, k.opts.BatchAuthors)
	if err != nil {
		return 0, DistantPast, markf(ErrClean, err, "compute watermark")
	}
	if wm.IsZero() {
		g.debug(VerbosityDetail, "cleanup withheld; watermark not yet established")
		return 0, wm, nil
	}
	k.metrics.ObserveWatermark(wm)
	n, err := k.cleaner.Clean(ctx, wm)
	if err != nil {
		return n, wm, err
	}
	k.metrics.ObserveClean(n)
	if n > 0 {
		g.info(VerbosityLifecycle, "history cleaned", log.Int("deleted", n), log.Time("before", wm))
	}
	return n, wm, nil
}

// ManualCleaner returns a cleaner sharing this kit's stores and author
// configuration.
func (k *Kit) ManualCleaner() *ManualCleaner {
	return &ManualCleaner{kit: k}
}
