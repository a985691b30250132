package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"greenthumb/internal/domain"
	"greenthumb/internal/store"
	"greenthumb/pkg/logx"
)

// fakeStore is an in-memory store.Store; flip unavailable to simulate a
// database that is not ready yet.
type fakeStore struct {
	mu          sync.Mutex
	users       []domain.User
	plants      []domain.Plant
	unavailable bool
}

func (f *fakeStore) errIfDown() error {
	if f.unavailable {
		return fmt.Errorf("%w: connect refused", store.ErrUnavailable)
	}
	return nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return 0, err
	}
	return len(f.users), nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	return append([]domain.User(nil), f.users...), nil
}

func (f *fakeStore) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return domain.User{}, err
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, store.ErrNotFound
}

func (f *fakeStore) ListPlants(ctx context.Context) ([]domain.Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	return append([]domain.Plant(nil), f.plants...), nil
}

func (f *fakeStore) ListPlantsByOwner(ctx context.Context, owner domain.UserID) ([]domain.Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	var out []domain.Plant
	for _, p := range f.plants {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReminderTime(ctx context.Context, id domain.UserID, hhmm string) error {
	return nil
}
func (f *fakeStore) MarkWatered(ctx context.Context, id domain.PlantID, date string) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

// fakeSender records sends and fails any subject containing failWord.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string // subjects
	failWord string
}

func (f *fakeSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWord != "" && strings.Contains(subject, f.failWord) {
		return errors.New("mailbox full")
	}
	f.sent = append(f.sent, subject)
	return nil
}

func fixedToday(s string) func() time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func newTestService(st store.Store, sender *fakeSender) *Service {
	svc := New(Config{Enabled: false}, st, sender, logx.Nop())
	svc.now = fixedToday("2025-01-08")
	return svc
}

func TestReconcileBuildsOneEntryPerValidUser(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{
		{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"},
		{ID: 2, Email: "bob@example.com", ReminderTime: "21:30"},
		{ID: 3, Email: "eve@example.com", ReminderTime: "never"},
		{ID: 4, Email: "kim@example.com", ReminderTime: ""},
	}}
	svc := newTestService(st, &fakeSender{})

	rep, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rep.Skipped {
		t.Fatal("unexpected skipped report")
	}
	if rep.Users != 4 || rep.Scheduled != 2 || rep.InvalidPref != 2 {
		t.Fatalf("report = %+v, want users=4 scheduled=2 invalid=2", rep)
	}
	if got := svc.registry.Len(); got != 2 {
		t.Fatalf("registry entries = %d, want 2", got)
	}
}

func TestReconcileLastWriteWins(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := newTestService(st, &fakeSender{})
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	st.mu.Lock()
	st.users[0].ReminderTime = "09:00"
	st.mu.Unlock()
	if _, err := svc.OnTimePreferenceChanged(ctx, 1); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if got := svc.registry.Len(); got != 1 {
		t.Fatalf("registry entries = %d, want 1", got)
	}
	if c := svc.registry.Snapshot()[1]; c.String() != "09:00" {
		t.Fatalf("entry clock = %s, want 09:00", c)
	}
}

func TestReconcileStoreDownIsSkippedAndRetriable(t *testing.T) {
	t.Parallel()
	st := &fakeStore{unavailable: true, users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := newTestService(st, &fakeSender{})
	ctx := context.Background()

	rep, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !rep.Skipped || rep.Reason == "" {
		t.Fatalf("report = %+v, want skipped with reason", rep)
	}
	if got := svc.registry.Len(); got != 0 {
		t.Fatalf("registry entries = %d, want 0 (nothing scheduled)", got)
	}

	// Store comes up; the retry succeeds.
	st.mu.Lock()
	st.unavailable = false
	st.mu.Unlock()
	rep, err = svc.Reconcile(ctx)
	if err != nil || rep.Skipped {
		t.Fatalf("retry: rep=%+v err=%v", rep, err)
	}
	if got := svc.registry.Len(); got != 1 {
		t.Fatalf("registry entries after retry = %d, want 1", got)
	}
}

func TestReconcileProbeFailureKeepsExistingSchedule(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := newTestService(st, &fakeSender{})
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	st.mu.Lock()
	st.unavailable = true
	st.mu.Unlock()

	rep, err := svc.Reconcile(ctx)
	if err != nil || !rep.Skipped {
		t.Fatalf("rep=%+v err=%v, want skipped", rep, err)
	}
	// The working schedule must survive a failed pass.
	if got := svc.registry.Len(); got != 1 {
		t.Fatalf("registry entries = %d, want 1", got)
	}
}

func TestReconcileEmptyUserSet(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := newTestService(st, &fakeSender{})
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	st.mu.Lock()
	st.users = nil
	st.mu.Unlock()

	rep, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile over empty set: %v", err)
	}
	if rep.Scheduled != 0 || svc.registry.Len() != 0 {
		t.Fatalf("rep=%+v entries=%d, want zero entries", rep, svc.registry.Len())
	}
}

func TestReconcileStartsRegistryWhenEnabled(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := New(Config{Enabled: true}, st, &fakeSender{}, logx.Nop())
	svc.now = fixedToday("2025-01-08")
	ctx := context.Background()

	svc.Start(ctx)
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !svc.registry.Running() {
		t.Fatal("registry should be running after reconcile with Enabled=true")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	if svc.registry.Running() {
		t.Fatal("registry should be stopped")
	}
}

func TestApplyTogglesRegistry(t *testing.T) {
	t.Parallel()
	st := &fakeStore{users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}}}
	svc := newTestService(st, &fakeSender{})
	ctx := context.Background()

	svc.Start(ctx)
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if svc.registry.Running() {
		t.Fatal("registry should stay stopped while disabled")
	}

	svc.Apply(ctx, Config{Enabled: true})
	if !svc.registry.Running() {
		t.Fatal("registry should run after enable")
	}
	// Reapplying the same state is a no-op.
	svc.Apply(ctx, Config{Enabled: true})
	if !svc.registry.Running() {
		t.Fatal("registry should still run")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Apply(stopCtx, Config{Enabled: false})
	if svc.registry.Running() {
		t.Fatal("registry should stop after disable")
	}
	if got := svc.registry.Len(); got != 1 {
		t.Fatalf("entries = %d, want 1 (kept across disable)", got)
	}
}

func TestRemindUserCountsByStatus(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}},
		plants: []domain.Plant{
			{ID: 1, Name: "monstera", LastWatered: "2025-01-01", WaterFrequency: 7, OwnerID: 1}, // due
			{ID: 2, Name: "fern", LastWatered: "2025-01-07", WaterFrequency: 1, OwnerID: 1},     // due
			{ID: 3, Name: "cactus", LastWatered: "2025-01-07", WaterFrequency: 30, OwnerID: 1},  // future
			{ID: 4, Name: "ivy", LastWatered: "", WaterFrequency: 7, OwnerID: 1},                // unknown
			{ID: 5, Name: "palm", LastWatered: "garbage", WaterFrequency: 7, OwnerID: 1},        // invalid
		},
	}
	sender := &fakeSender{}
	svc := newTestService(st, sender)

	rep := svc.RemindUser(context.Background(), 1)
	if rep.Skipped {
		t.Fatalf("unexpected skip: %+v", rep)
	}
	if rep.Evaluated != 5 || rep.Due != 2 || rep.Sent != 2 || rep.Failed != 0 || rep.Unknown != 1 || rep.Invalid != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d mails, want 2", len(sender.sent))
	}
}

func TestDispatchFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		users: []domain.User{{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"}},
		plants: []domain.Plant{
			{ID: 1, Name: "monstera", LastWatered: "2025-01-01", WaterFrequency: 7, OwnerID: 1},
			{ID: 2, Name: "fern", LastWatered: "2025-01-01", WaterFrequency: 7, OwnerID: 1},
			{ID: 3, Name: "palm", LastWatered: "2025-01-01", WaterFrequency: 7, OwnerID: 1},
		},
	}
	sender := &fakeSender{failWord: "fern"}
	svc := newTestService(st, sender)

	rep := svc.RemindUser(context.Background(), 1)
	if rep.Due != 3 || rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v, want due=3 sent=2 failed=1", rep)
	}
}

func TestRunRemindersNowAcrossUsers(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		users: []domain.User{
			{ID: 1, Email: "amy@example.com", ReminderTime: "08:00"},
			{ID: 2, Email: "bob@example.com", ReminderTime: "oops"}, // bad pref still gets manual runs
		},
		plants: []domain.Plant{
			{ID: 1, Name: "monstera", LastWatered: "2025-01-01", WaterFrequency: 7, OwnerID: 1},
			{ID: 2, Name: "basil", LastWatered: "2025-01-05", WaterFrequency: 2, OwnerID: 2},
			{ID: 3, Name: "cactus", LastWatered: "2025-01-07", WaterFrequency: 30, OwnerID: 2},
		},
	}
	sender := &fakeSender{}
	svc := newTestService(st, sender)

	rep := svc.RunRemindersNow(context.Background())
	if rep.Skipped {
		t.Fatalf("unexpected skip: %+v", rep)
	}
	if rep.Evaluated != 3 || rep.Due != 2 || rep.Sent != 2 {
		t.Fatalf("report = %+v, want evaluated=3 due=2 sent=2", rep)
	}
}

func TestRunRemindersNowStoreDownStillReports(t *testing.T) {
	t.Parallel()
	st := &fakeStore{unavailable: true}
	svc := newTestService(st, &fakeSender{})

	rep := svc.RunRemindersNow(context.Background())
	if !rep.Skipped || rep.Reason == "" {
		t.Fatalf("report = %+v, want skipped with reason", rep)
	}
	if rep.Sent != 0 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want zero counts", rep)
	}
}
