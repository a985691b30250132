package reminder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"greenthumb/internal/domain"
	"greenthumb/internal/mailer"
	"greenthumb/internal/metrics"
	"greenthumb/internal/store"
	"greenthumb/pkg/logx"
)

// Config controls the scheduling service.
type Config struct {
	// Enabled gates the background registry. Reconciliation still builds the
	// entry table when disabled so a later enable picks it up, but the cron
	// engine is not started.
	Enabled bool
}

// Service is the scheduling core: it reconciles per-user daily triggers from
// stored time preferences and runs the evaluate-and-dispatch batches those
// triggers fire. All collaborators are injected; there is no package state.
type Service struct {
	// enabled gates the background registry. Atomic: the config reload
	// goroutine flips it while reconcile passes read it.
	enabled    atomic.Bool
	st         store.Store
	dispatcher *Dispatcher
	registry   *Registry
	log        logx.Logger

	// now is the clock used to derive "today"; tests pin it.
	now func() time.Time

	runCtx context.Context
}

func New(cfg Config, st store.Store, sender mailer.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		st:         st,
		dispatcher: NewDispatcher(sender, log.With(logx.String("comp", "dispatch"))),
		registry:   NewRegistry(log.With(logx.String("comp", "registry"))),
		log:        log,
		now:        time.Now,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Registry exposes the schedule registry for status surfaces.
func (s *Service) Registry() *Registry { return s.registry }

// Start remembers the run context and starts the registry (when enabled).
func (s *Service) Start(ctx context.Context) {
	s.runCtx = ctx
	if s.enabled.Load() {
		s.registry.Start(ctx)
	}
}

// Stop shuts the registry down, waiting for in-flight batches within ctx.
// It never fails; shutdown problems are logged, not raised.
func (s *Service) Stop(ctx context.Context) {
	s.registry.Stop(ctx)
}

// Apply flips the scheduler flag at runtime. Enabling starts the registry
// over the previously built entry table; disabling stops the engine but keeps
// the entries for a later enable.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	prev := s.enabled.Swap(cfg.Enabled)
	switch {
	case cfg.Enabled && !prev:
		runCtx := s.runCtx
		if runCtx == nil {
			runCtx = context.Background()
		}
		s.log.Info("scheduler enabled via config")
		s.registry.Start(runCtx)
	case !cfg.Enabled && prev:
		s.log.Info("scheduler disabled via config")
		s.registry.Stop(ctx)
	}
}

// Reconcile rebuilds the full trigger table from the current user set.
//
// When the store is not ready it returns a skipped report and a nil error;
// the caller may retry once the store comes up. Per-user problems (bad
// reminder_time) skip that user and are counted, never escalated. Only a
// non-availability store error or a registry invariant violation aborts the
// pass.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{RunID: uuid.NewString()}
	metrics.Reconciles.Inc()

	// Readiness probe before touching the registry: a half-initialized store
	// must not wipe a working schedule.
	if _, err := s.st.CountUsers(ctx); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			report.Skipped = true
			report.Reason = err.Error()
			s.log.Warn("store not ready, skipping reconciliation", logx.String("run", report.RunID), logx.Err(err))
			return report, nil
		}
		return report, err
	}

	users, err := s.st.ListUsers(ctx)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			report.Skipped = true
			report.Reason = err.Error()
			return report, nil
		}
		return report, err
	}

	s.registry.ClearAll()
	for _, u := range users {
		report.Users++
		clock, err := domain.ParseClock(u.ReminderTime)
		if err != nil {
			report.InvalidPref++
			s.log.Warn("invalid reminder time, skipping user",
				logx.Int64("user", int64(u.ID)), logx.String("value", u.ReminderTime))
			continue
		}
		uid := u.ID
		if err := s.registry.Upsert(uid, clock, func(ctx context.Context) {
			rep := s.RemindUser(ctx, uid)
			s.log.Info("daily batch done",
				logx.Int64("user", int64(uid)), logx.String("run", rep.RunID),
				logx.Int("due", rep.Due), logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed))
		}); err != nil {
			// A rejected cron spec here means ParseClock and CronSpec disagree;
			// that is an internal invariant violation, not a per-user condition.
			return report, err
		}
		report.Scheduled++
	}

	if s.enabled.Load() {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.registry.Start(ctx)
	}

	s.log.Info("reconciled schedules",
		logx.String("run", report.RunID), logx.Int("users", report.Users),
		logx.Int("scheduled", report.Scheduled), logx.Int("invalid", report.InvalidPref))
	return report, nil
}

// OnTimePreferenceChanged is the settings-change hook: any user's preference
// edit re-runs the full reconciliation. Rebuilding everything is O(users) but
// cheap at this scale and keeps the one-entry-per-user invariant trivially
// true.
func (s *Service) OnTimePreferenceChanged(ctx context.Context, userID domain.UserID) (ReconcileReport, error) {
	s.log.Info("time preference changed", logx.Int64("user", int64(userID)))
	return s.Reconcile(ctx)
}

// RemindUser runs one evaluate-and-dispatch batch for a single user.
func (s *Service) RemindUser(ctx context.Context, userID domain.UserID) DispatchReport {
	rep := DispatchReport{RunID: uuid.NewString()}

	user, err := s.st.GetUser(ctx, userID)
	if err != nil {
		rep.Skipped = true
		rep.Reason = err.Error()
		s.log.Warn("batch skipped, user lookup failed", logx.Int64("user", int64(userID)), logx.Err(err))
		return rep
	}
	plants, err := s.st.ListPlantsByOwner(ctx, userID)
	if err != nil {
		rep.Skipped = true
		rep.Reason = err.Error()
		s.log.Warn("batch skipped, plant listing failed", logx.Int64("user", int64(userID)), logx.Err(err))
		return rep
	}

	s.evaluateAndSend(ctx, user, plants, &rep)
	return rep
}

// RunRemindersNow fires one ad-hoc batch across every user immediately.
// It always returns a report; if the store is down the report says so and the
// counts are zero.
func (s *Service) RunRemindersNow(ctx context.Context) DispatchReport {
	rep := DispatchReport{RunID: uuid.NewString()}

	users, err := s.st.ListUsers(ctx)
	if err != nil {
		rep.Skipped = true
		rep.Reason = err.Error()
		s.log.Warn("manual run skipped", logx.Err(err))
		return rep
	}
	plants, err := s.st.ListPlants(ctx)
	if err != nil {
		rep.Skipped = true
		rep.Reason = err.Error()
		s.log.Warn("manual run skipped", logx.Err(err))
		return rep
	}

	byOwner := make(map[domain.UserID][]domain.Plant)
	for _, p := range plants {
		byOwner[p.OwnerID] = append(byOwner[p.OwnerID], p)
	}

	for _, u := range users {
		var sub DispatchReport
		s.evaluateAndSend(ctx, u, byOwner[u.ID], &sub)
		rep.add(sub)
	}

	s.log.Info("manual reminder run done",
		logx.String("run", rep.RunID), logx.Int("evaluated", rep.Evaluated),
		logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed))
	return rep
}

// evaluateAndSend classifies each plant against "today" and dispatches a
// reminder for every due one. Failures are per-plant: one bad record or one
// refused recipient never stops the rest of the batch.
func (s *Service) evaluateAndSend(ctx context.Context, user domain.User, plants []domain.Plant, rep *DispatchReport) {
	today := s.now()
	for _, p := range plants {
		rep.Evaluated++
		ev := domain.EvaluatePlant(p, today)
		switch ev.Status {
		case domain.StatusInvalid:
			rep.Invalid++
			metrics.InvalidRecords.Inc()
			s.log.Warn("invalid plant record, skipping",
				logx.Int64("plant", int64(p.ID)), logx.String("last_watered", p.LastWatered),
				logx.Int("frequency", p.WaterFrequency))
		case domain.StatusUnknown:
			rep.Unknown++
		case domain.StatusToday:
			rep.Due++
			err := s.dispatcher.Dispatch(ctx, user, mailer.KindReminder, mailer.ReminderData{Plant: p})
			if err != nil {
				rep.Failed++
				metrics.RemindersFailed.Inc()
				s.log.Warn("reminder send failed",
					logx.Int64("user", int64(user.ID)), logx.Int64("plant", int64(p.ID)), logx.Err(err))
				continue
			}
			rep.Sent++
			metrics.RemindersSent.Inc()
		}
	}
}
