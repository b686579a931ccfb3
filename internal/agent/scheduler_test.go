package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agenticmail/agenticmail/internal/clock"
	"github.com/agenticmail/agenticmail/internal/store"
	"github.com/agenticmail/agenticmail/pkg/models"
)

type fakeDeliverer struct {
	mu      sync.Mutex
	sent    []string
	spawned []string
	sendErr error
}

func (d *fakeDeliverer) SendMessage(_ context.Context, sessionID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, sessionID+": "+text)
	return nil
}

func (d *fakeDeliverer) Spawn(_ context.Context, agentID, firstMessage string) (*models.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawned = append(d.spawned, agentID+": "+firstMessage)
	return &models.Session{ID: "spawned"}, nil
}

func (d *fakeDeliverer) counts() (sent, spawned int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent), len(d.spawned)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Memory, *fakeDeliverer, *clock.Fake) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	deliverer := &fakeDeliverer{}
	fake := clock.NewFake(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	s := NewScheduler(st, deliverer, fake, nil, nil)
	return s, st, deliverer, fake
}

func TestScheduler_ScheduleValidation(t *testing.T) {
	s, _, _, fake := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Schedule(ctx, FollowUpRequest{Message: "hi", ExecuteAt: fake.Now()}); KindOf(err) != KindInvalidArgument {
		t.Error("missing agent accepted")
	}
	if _, err := s.Schedule(ctx, FollowUpRequest{AgentID: "a", ExecuteAt: fake.Now()}); KindOf(err) != KindInvalidArgument {
		t.Error("missing message accepted")
	}
	if _, err := s.Schedule(ctx, FollowUpRequest{AgentID: "a", Message: "hi"}); KindOf(err) != KindInvalidArgument {
		t.Error("missing executeAt and cron accepted")
	}
	if _, err := s.Schedule(ctx, FollowUpRequest{AgentID: "a", Message: "hi", Cron: "not a cron"}); KindOf(err) != KindInvalidArgument {
		t.Error("bad cron accepted")
	}

	// Cron-only requests compute their first ExecuteAt.
	f, err := s.Schedule(ctx, FollowUpRequest{AgentID: "a", Message: "hi", Cron: "0 * * * *"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !f.ExecuteAt.After(fake.Now()) {
		t.Errorf("executeAt = %s, want after now", f.ExecuteAt)
	}
}

func TestScheduler_FiresAtMostOnce(t *testing.T) {
	s, st, deliverer, fake := newTestScheduler(t)
	ctx := context.Background()

	f, err := s.Schedule(ctx, FollowUpRequest{
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Message:   "check the build",
		ExecuteAt: fake.Now(),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	s.fireDue()
	if sent, _ := deliverer.counts(); sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	stored, err := st.GetFollowUp(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.FollowUpFired {
		t.Errorf("status = %s, want fired", stored.Status)
	}

	// A second sweep must not re-deliver.
	s.fireDue()
	if sent, _ := deliverer.counts(); sent != 1 {
		t.Errorf("sent = %d after second sweep, want 1", sent)
	}
}

func TestScheduler_FutureFollowUpWaits(t *testing.T) {
	s, _, deliverer, fake := newTestScheduler(t)

	_, err := s.Schedule(context.Background(), FollowUpRequest{
		AgentID:   "agent-1",
		Message:   "later",
		ExecuteAt: fake.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	s.fireDue()
	if sent, spawned := deliverer.counts(); sent+spawned != 0 {
		t.Fatal("future follow-up fired early")
	}

	// Clamped to the idle poll when further out than a minute.
	if got := s.nextDelay(); got != schedulerIdlePoll {
		t.Errorf("nextDelay = %s, want %s", got, schedulerIdlePoll)
	}
}

func TestScheduler_FallsBackToSpawn(t *testing.T) {
	s, _, deliverer, fake := newTestScheduler(t)
	ctx := context.Background()

	// Session is terminal: delivery reports precondition_failed.
	deliverer.sendErr = NewError(KindPreconditionFailed, "session completed")
	if _, err := s.Schedule(ctx, FollowUpRequest{
		AgentID:   "agent-1",
		SessionID: "sess-gone",
		Message:   "ping",
		ExecuteAt: fake.Now(),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.fireDue()
	if _, spawned := deliverer.counts(); spawned != 1 {
		t.Errorf("spawned = %d, want 1", spawned)
	}

	// No session at all goes straight to a fresh one.
	if _, err := s.Schedule(ctx, FollowUpRequest{
		AgentID:   "agent-1",
		Message:   "sessionless ping",
		ExecuteAt: fake.Now(),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.fireDue()
	if _, spawned := deliverer.counts(); spawned != 2 {
		t.Errorf("spawned = %d, want 2", spawned)
	}
}

func TestScheduler_CronReschedules(t *testing.T) {
	s, st, deliverer, fake := newTestScheduler(t)
	ctx := context.Background()

	f, err := s.Schedule(ctx, FollowUpRequest{
		AgentID:   "agent-1",
		Message:   "hourly report",
		ExecuteAt: fake.Now(),
		Cron:      "0 * * * *",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	s.fireDue()
	if _, spawned := deliverer.counts(); spawned != 1 {
		t.Fatalf("spawned = %d, want 1", spawned)
	}

	stored, err := st.GetFollowUp(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.FollowUpPending {
		t.Errorf("status = %s, want pending after reschedule", stored.Status)
	}
	want := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if !stored.ExecuteAt.Equal(want) {
		t.Errorf("executeAt = %s, want %s", stored.ExecuteAt, want)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s, _, deliverer, fake := newTestScheduler(t)
	ctx := context.Background()

	f, err := s.Schedule(ctx, FollowUpRequest{
		AgentID:   "agent-1",
		Message:   "never mind",
		ExecuteAt: fake.Now(),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	cancelled, err := s.Cancel(ctx, f.ID)
	if err != nil || !cancelled {
		t.Fatalf("cancel = %v, %v, want true, nil", cancelled, err)
	}
	cancelled, err = s.Cancel(ctx, f.ID)
	if err != nil || cancelled {
		t.Errorf("second cancel = %v, %v, want false, nil", cancelled, err)
	}

	s.fireDue()
	if sent, spawned := deliverer.counts(); sent+spawned != 0 {
		t.Error("cancelled follow-up fired")
	}
}

func TestScheduler_RunLoopDelivers(t *testing.T) {
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	deliverer := &fakeDeliverer{}
	s := NewScheduler(st, deliverer, clock.Real(), nil, nil)

	s.Start()
	t.Cleanup(s.Stop)

	if _, err := s.Schedule(context.Background(), FollowUpRequest{
		AgentID:   "agent-1",
		Message:   "soon",
		ExecuteAt: time.Now().Add(10 * time.Millisecond),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, spawned := deliverer.counts(); spawned == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("follow-up never delivered")
}
