package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// CronAdapter triggers a scheduled prompt on a cron schedule. Unlike GitHub
// and Slack, there is no reply target other than the channel log, so it
// implements Reply as a no-op sink.
type CronAdapter struct {
	dispatcher *Dispatcher
	scheduler  *cron.Cron
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronAdapter wraps dispatcher with a robfig/cron scheduler driving
// scheduled-event runs.
func NewCronAdapter(dispatcher *Dispatcher, logger *slog.Logger) *CronAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronAdapter{
		dispatcher: dispatcher,
		scheduler:  cron.New(),
		logger:     logger,
		entries:    map[string]cron.EntryID{},
	}
}

// ScheduledJob describes one recurring prompt.
type ScheduledJob struct {
	Name     string // unique job name, used as the channel id
	Schedule string // standard 5-field cron expression
	Prompt   string
	Principal string
}

// Schedule registers job, replacing any prior registration under the same
// name. The job fires by calling Dispatcher.Handle with a fresh run id and
// an event key derived from the job name and fire time, which cron.v3's own
// single-entry-at-a-time guarantee makes unique per tick.
func (a *CronAdapter) Schedule(job ScheduledJob) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.entries[job.Name]; ok {
		a.scheduler.Remove(id)
		delete(a.entries, job.Name)
	}

	id, err := a.scheduler.AddFunc(job.Schedule, func() {
		runID := uuid.NewString()
		evt := InboundEvent{
			Source:    "cron",
			ChannelID: job.Name,
			EventKey:  fmt.Sprintf("cron:%s:%s", job.Name, runID),
			Prompt:    job.Prompt,
			RunID:     runID,
		}
		outcome, err := a.dispatcher.Handle(context.Background(), evt, job.Principal, noopReply{})
		if err != nil {
			a.logger.Error("cron job run failed", "job", job.Name, "outcome", outcome, "error", err)
			return
		}
		a.logger.Info("cron job run completed", "job", job.Name, "outcome", outcome)
	})
	if err != nil {
		return fmt.Errorf("adapters: schedule cron job %s: %w", job.Name, err)
	}
	a.entries[job.Name] = id
	return nil
}

// Start begins running scheduled jobs in the background.
func (a *CronAdapter) Start() { a.scheduler.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish.
func (a *CronAdapter) Stop() { <-a.scheduler.Stop().Done() }

type noopReply struct{}

func (noopReply) PostReply(ctx context.Context, evt InboundEvent, text string) error { return nil }
