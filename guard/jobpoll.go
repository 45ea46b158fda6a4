package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlorworks/seatguard/telemetry"
)

// JobState is the lifecycle state of a tracked upload job.
type JobState int

const (
	JobPending JobState = iota
	JobSucceeded
	JobFailed
	JobExhausted
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// JobPoller tracks one submitted upload job until a terminal state. One poller
// is spawned per accepted submission; it is not persisted and a new submission
// creates a new poller. Transitions are driven by the injected clock so the
// attempt-ceiling logic is testable without real timers.
type JobPoller struct {
	JobID  string
	Kind   string
	Target Target

	API    AccountService
	Notify Notifier
	Clock  Clock

	PollInterval time.Duration
	InitialDelay time.Duration
	MaxAttempts  int

	attempts int
}

// Run polls until the job reaches a terminal state, dispatches exactly one
// notification for it, and returns the state. Context cancellation stops the
// poller silently in JobPending.
func (p *JobPoller) Run(ctx context.Context) JobState {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := slog.Default().With(slog.String("job_id", p.JobID), slog.String("kind", p.Kind), slog.String("component", "job_poll"))
	log.Info("job poller starting", slog.Int("max_attempts", p.MaxAttempts), slog.Duration("interval", p.PollInterval))

	if p.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return JobPending
		case <-clock.After(p.InitialDelay):
		}
	}
	for {
		if ctx.Err() != nil {
			return JobPending
		}
		state, detail := p.poll(ctx)
		if state != JobPending {
			log.Info("job terminal", slog.String("state", state.String()), slog.Int("attempts", p.attempts))
			telemetry.JobOutcomes.WithLabelValues(state.String()).Inc()
			if err := p.Notify.Send(ctx, p.Target, detail); err != nil {
				log.Warn("job notify failed", slog.Any("err", err))
			}
			return state
		}
		select {
		case <-ctx.Done():
			return JobPending
		case <-clock.After(p.PollInterval):
		}
	}
}

// poll consumes one attempt and classifies the result. Terminal conditions are
// checked in order: completion, job-reported error, attempt ceiling. A
// transport failure consumes the attempt but is not itself terminal.
func (p *JobPoller) poll(ctx context.Context) (JobState, string) {
	p.attempts++
	telemetry.JobPolls.Inc()
	st, err := p.API.UploadJob(ctx, p.JobID)
	if err != nil {
		slog.Debug("job poll transport error", slog.String("job_id", p.JobID), slog.Any("err", err))
	} else {
		if st.Done {
			msg := fmt.Sprintf("%s upload finished", p.Kind)
			if st.CompletedAt != nil {
				msg = fmt.Sprintf("%s upload finished at %s", p.Kind, st.CompletedAt.Format(time.RFC3339))
			}
			return JobSucceeded, msg
		}
		if st.Error != "" {
			return JobFailed, fmt.Sprintf("%s upload failed: %s", p.Kind, st.Error)
		}
	}
	if p.attempts >= p.MaxAttempts {
		return JobExhausted, fmt.Sprintf("%s upload still pending after %d checks, please check later", p.Kind, p.attempts)
	}
	return JobPending, ""
}
