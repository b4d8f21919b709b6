package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"printflow/internal/domain"
	"printflow/internal/logging"
	"printflow/internal/notify"
	"printflow/internal/repo"
	"printflow/internal/workflow"
)

const EventReminder = "task.reminder"

// Service nudges assignees whose tasks have sat untouched for StaleAfter.
// Each task version is reminded at most once.
type Service struct {
	Repo       repo.Repo
	Notify     notify.Sink
	Log        *zap.Logger
	Now        func() time.Time
	StaleAfter time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RunOnce sends reminders for every stale pending task and returns how many went out.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	log := logging.OrNop(s.Log)
	now := s.now().UTC()
	tasks, err := s.Repo.ListTasks(ctx, repo.TaskFilters{
		Statuses:      []domain.TaskStatus{domain.TaskAssigned, domain.TaskRejected},
		UpdatedBefore: now.Add(-s.StaleAfter).Format(time.RFC3339),
	})
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	byUser := map[int64]bool{}
	for _, t := range tasks {
		if t.AssigneeID != nil {
			byUser[*t.AssigneeID] = true
		}
	}
	users := make([]int64, 0, len(byUser))
	for uid := range byUser {
		users = append(users, uid)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	sent := 0
	for _, uid := range users {
		for _, t := range workflow.DerivePendingTasksForUser(tasks, uid) {
			done, err := s.Repo.ReminderSent(ctx, t.ID, t.Version)
			if err != nil {
				return sent, fmt.Errorf("reminder log: %w", err)
			}
			if done {
				continue
			}
			if s.Notify != nil {
				s.Notify.Emit(ctx, notify.Notification{
					Event:       EventReminder,
					OrderID:     t.OrderID,
					RecipientID: uid,
					Message:     message(t),
					TS:          now.Format(time.RFC3339),
				})
			}
			if err := s.Repo.MarkReminded(ctx, t.ID, t.Version, now.Format(time.RFC3339)); err != nil {
				return sent, fmt.Errorf("mark reminded: %w", err)
			}
			sent++
		}
	}
	log.Debug("reminder run", zap.Int("stale", len(tasks)), zap.Int("sent", sent))
	return sent, nil
}

func message(t domain.Task) string {
	if t.Status == domain.TaskRejected {
		return fmt.Sprintf("%s task on order %d was rejected and is waiting for rework", t.Type, t.OrderID)
	}
	return fmt.Sprintf("%s task on order %d is waiting for you", t.Type, t.OrderID)
}

// Start schedules RunOnce on a standard five-field cron expression.
func (s *Service) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("reminders already running")
	}
	log := logging.OrNop(s.Log)
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Warn("reminder run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	log.Info("reminders scheduled", zap.String("schedule", schedule), zap.Duration("stale_after", s.StaleAfter))
	return nil
}

// Stop waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		logging.OrNop(s.Log).Warn("reminder stop timed out")
	}
}
