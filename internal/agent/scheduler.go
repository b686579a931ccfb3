package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agenticmail/agenticmail/internal/clock"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/store"
	"github.com/agenticmail/agenticmail/pkg/models"
)

// schedulerIdlePoll bounds how long the scheduler sleeps when nothing
// is pending, so follow-ups created by another process are noticed.
const schedulerIdlePoll = time.Minute

// Deliverer is the slice of the runtime the scheduler needs to hand a
// fired follow-up to.
type Deliverer interface {
	SendMessage(ctx context.Context, sessionID, text string) error
	Spawn(ctx context.Context, agentID, firstMessage string) (*models.Session, error)
}

// FollowUpRequest schedules a future message.
type FollowUpRequest struct {
	AgentID   string
	SessionID string
	Message   string
	ExecuteAt time.Time
	// Cron, when set, reschedules the follow-up after each fire.
	// Standard five-field cron syntax.
	Cron string
}

// Scheduler fires follow-ups at their ExecuteAt. One timer tracks the
// earliest pending follow-up; the fired transition in the store is the
// at-most-once guard, so concurrent schedulers never double-deliver.
type Scheduler struct {
	store     store.Store
	deliverer Deliverer
	clk       clock.Clock
	logger    *observability.Logger
	metrics   *observability.Metrics

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(st store.Store, deliverer Deliverer, clk clock.Clock, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Scheduler{
		store:     st,
		deliverer: deliverer,
		clk:       clk,
		logger:    logger,
		metrics:   metrics,
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Schedule persists a follow-up and wakes the timer.
func (s *Scheduler) Schedule(ctx context.Context, req FollowUpRequest) (*models.FollowUp, error) {
	if req.AgentID == "" {
		return nil, NewError(KindInvalidArgument, "follow-up requires an agent id")
	}
	if req.Message == "" {
		return nil, NewError(KindInvalidArgument, "follow-up requires a message")
	}
	if req.Cron != "" {
		if _, err := cron.ParseStandard(req.Cron); err != nil {
			return nil, NewError(KindInvalidArgument, fmt.Sprintf("invalid cron expression %q", req.Cron)).WithCause(err)
		}
	}
	executeAt := req.ExecuteAt
	if executeAt.IsZero() {
		if req.Cron == "" {
			return nil, NewError(KindInvalidArgument, "follow-up requires executeAt or cron")
		}
		schedule, _ := cron.ParseStandard(req.Cron)
		executeAt = schedule.Next(s.clk.Now())
	}

	f := &models.FollowUp{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		Message:   req.Message,
		ExecuteAt: executeAt,
		Cron:      req.Cron,
		Status:    models.FollowUpPending,
		CreatedAt: s.clk.Now(),
	}
	if err := s.store.CreateFollowUp(ctx, f); err != nil {
		return nil, NewError(KindInternal, "persist follow-up").WithCause(err)
	}
	s.wake()
	return f, nil
}

// Cancel withdraws a pending follow-up. Cancelling a fired or already
// cancelled follow-up is a no-op that reports false.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	cancelled, err := s.store.CancelFollowUp(ctx, id)
	if err != nil {
		return false, err
	}
	if cancelled {
		if s.metrics != nil {
			s.metrics.RecordFollowUp("cancelled")
		}
		s.wake()
	}
	return cancelled, nil
}

// Start launches the timer goroutine. Call once.
func (s *Scheduler) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// Stop halts the timer goroutine and waits for it.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	timer := s.clk.NewTimer(s.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			timer.Stop()
			timer.Reset(s.nextDelay())
		case <-timer.C():
			s.fireDue()
			timer.Reset(s.nextDelay())
		}
	}
}

// nextDelay is the time until the earliest pending follow-up, clamped
// to [0, schedulerIdlePoll].
func (s *Scheduler) nextDelay() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := s.store.ListPendingFollowUps(ctx)
	if err != nil {
		s.logger.Error(ctx, "list pending follow-ups failed", "error", err)
		return schedulerIdlePoll
	}
	if len(pending) == 0 {
		return schedulerIdlePoll
	}
	delay := pending[0].ExecuteAt.Sub(s.clk.Now())
	if delay < 0 {
		return 0
	}
	if delay > schedulerIdlePoll {
		return schedulerIdlePoll
	}
	return delay
}

// fireDue delivers every pending follow-up whose time has come.
func (s *Scheduler) fireDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := s.clk.Now()
	pending, err := s.store.ListPendingFollowUps(ctx)
	if err != nil {
		s.logger.Error(ctx, "list pending follow-ups failed", "error", err)
		return
	}

	for _, f := range pending {
		if f.ExecuteAt.After(now) {
			break
		}
		fired, err := s.store.MarkFollowUpFired(ctx, f.ID, now)
		if err != nil {
			s.logger.Error(ctx, "mark follow-up fired failed", "follow_up_id", f.ID, "error", err)
			continue
		}
		if !fired {
			// Another scheduler instance won the race.
			continue
		}

		s.deliver(ctx, f)

		if f.Cron != "" {
			schedule, err := cron.ParseStandard(f.Cron)
			if err != nil {
				s.logger.Error(ctx, "stored cron no longer parses", "follow_up_id", f.ID, "error", err)
				continue
			}
			next := schedule.Next(now)
			if err := s.store.RescheduleFollowUp(ctx, f.ID, next); err != nil {
				s.logger.Error(ctx, "reschedule recurring follow-up failed", "follow_up_id", f.ID, "error", err)
			}
		}
	}
}

// deliver hands the follow-up message to its session, falling back to
// a fresh session when the original is gone or terminal.
func (s *Scheduler) deliver(ctx context.Context, f *models.FollowUp) {
	outcome := "fired"
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordFollowUp(outcome)
		}
	}()

	if f.SessionID != "" {
		err := s.deliverer.SendMessage(ctx, f.SessionID, f.Message)
		if err == nil {
			s.logger.Info(ctx, "follow-up delivered", "follow_up_id", f.ID, "session_id", f.SessionID)
			return
		}
		switch KindOf(err) {
		case KindNotFound, KindPreconditionFailed:
			// Session is gone or terminal; fall through to a new one.
		default:
			s.logger.Error(ctx, "follow-up delivery failed", "follow_up_id", f.ID, "error", err)
			outcome = "missed"
			return
		}
	}

	if _, err := s.deliverer.Spawn(ctx, f.AgentID, f.Message); err != nil {
		s.logger.Error(ctx, "follow-up spawn failed", "follow_up_id", f.ID, "error", err)
		outcome = "missed"
	}
}
