package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"greenthumb/internal/domain"
	"greenthumb/internal/metrics"
	"greenthumb/pkg/logx"
)

// Job is the callback bound to one user's daily trigger. It receives the
// registry's run context and must tolerate being invoked concurrently with
// registry mutations (it never runs under the registry lock).
type Job func(ctx context.Context)

type entry struct {
	clock   domain.Clock
	entryID cron.EntryID
	gen     uint64
}

// Registry keeps at most one recurring daily trigger per user and owns the
// cron engine that fires them at local wall-clock time.
//
// Locking: mu protects the entry table and is held only for mutation and the
// generation check at fire time, never across a job body.
type Registry struct {
	mu      sync.Mutex
	log     logx.Logger
	c       *cron.Cron
	entries map[domain.UserID]*entry
	// inflight guards against overlapping batches per user: a fire that
	// finds the flag set is skipped, never queued. Kept outside the entry
	// table so the guard survives Upsert replacement and ClearAll while a
	// batch from the old trigger is still running.
	inflight map[domain.UserID]*atomic.Bool
	// nextGen is monotonic across the whole registry so a generation can
	// never repeat, even through a ClearAll + re-Upsert cycle.
	nextGen uint64
	started bool
	runCtx  context.Context
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:      log,
		c:        cron.New(cron.WithLocation(time.Local)),
		entries:  map[domain.UserID]*entry{},
		inflight: map[domain.UserID]*atomic.Bool{},
	}
}

// Upsert registers a daily trigger for userID at clock, atomically replacing
// any existing entry. A replaced trigger can never fire again: fires carry the
// generation they were registered with and are dropped when it is stale, even
// if the cron engine dispatched them in the same tick window as the
// replacement.
func (r *Registry) Upsert(userID domain.UserID, clock domain.Clock, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[userID]; ok {
		r.c.Remove(old.entryID)
		delete(r.entries, userID)
	}
	if r.inflight[userID] == nil {
		r.inflight[userID] = &atomic.Bool{}
	}
	r.nextGen++
	gen := r.nextGen

	e := &entry{clock: clock, gen: gen}
	id, err := r.c.AddFunc(clock.CronSpec(), func() {
		r.fire(userID, gen, job)
	})
	if err != nil {
		return err
	}
	e.entryID = id
	r.entries[userID] = e
	r.log.Debug("trigger registered",
		logx.Int64("user", int64(userID)), logx.String("at", clock.String()))
	return nil
}

// ClearAll removes every entry. Triggers already dispatched by the engine are
// dropped by the generation check when they reach fire(). In-flight guards
// are retained so a batch still running keeps blocking rebuilt triggers for
// its user.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		r.c.Remove(e.entryID)
		delete(r.entries, id)
	}
}

// Start begins firing triggers. Calling it while running is a no-op.
// ctx becomes the run context passed to jobs.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.runCtx = ctx
	r.c.Start()
	r.started = true
	r.log.Info("registry started", logx.Int("entries", len(r.entries)))
}

// Stop halts firing and waits for in-flight jobs, bounded by ctx.
// Calling it while stopped is a no-op. Entries survive a stop and resume on
// the next Start.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	c := r.c
	r.mu.Unlock()

	start := time.Now()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		r.log.Info("registry stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		r.log.Warn("registry stop timed out with jobs in flight", logx.Duration("waited", time.Since(start)))
	}
}

// Running reports whether the engine is firing triggers.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Len returns the number of active entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the active entries keyed by user.
func (r *Registry) Snapshot() map[domain.UserID]domain.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.UserID]domain.Clock, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.clock
	}
	return out
}

func (r *Registry) fire(userID domain.UserID, gen uint64, job Job) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.gen != gen {
		// Superseded or cleared between dispatch and execution.
		r.mu.Unlock()
		return
	}
	inFlight := r.inflight[userID]
	if inFlight == nil {
		inFlight = &atomic.Bool{}
		r.inflight[userID] = inFlight
	}
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if !inFlight.CompareAndSwap(false, true) {
		r.log.Warn("previous batch still running, skipping fire", logx.Int64("user", int64(userID)))
		return
	}
	defer inFlight.Store(false)

	metrics.TriggerFires.Inc()
	job(ctx)
}
