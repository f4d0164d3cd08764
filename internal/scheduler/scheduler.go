// Package scheduler queues scans on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/dispatcher"
	"github.com/JakeFAU/regionpulse/internal/scan"
)

const (
	triggerName   = "schedule"
	submitTimeout = 5 * time.Second
)

// Submitter queues scan requests. dispatcher.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req scan.Request) (dispatcher.JobStatus, error)
}

// Scheduler submits one scan request per cron tick.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	sub     Submitter
	regions []string
	logger  *zap.Logger
}

// New parses spec (standard 5-field syntax or a descriptor such as
// "@hourly") and prepares a scheduler that is idle until Start.
func New(spec string, regions []string, sub Submitter, logger *zap.Logger) (*Scheduler, error) {
	if sub == nil {
		return nil, errors.New("scheduler requires a submitter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sub:     sub,
		regions: append([]string(nil), regions...),
		logger:  logger,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scan schedule started", zap.Time("next", s.Next()), zap.Strings("regions", s.regions))
}

// Stop halts the schedule and waits for a running tick, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// Next reports the next activation time, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	status, err := s.sub.Submit(ctx, scan.Request{Regions: s.regions, Trigger: triggerName})
	if err != nil {
		s.logger.Error("scheduled scan not queued", zap.Error(err))
		return
	}
	s.logger.Info("scheduled scan queued", zap.String("scan_request_id", status.ID))
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
