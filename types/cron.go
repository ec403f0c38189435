package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job func(ctx context.Context)) error
	Remove(jobName string) error
	Jobs() []JobEntry
}

type JobEntry struct {
	ID            cron.EntryID
	Name          string
	Spec          string
	AddedAt       time.Time
	LastRun       time.Time
	NextRun       time.Time
	LastDuration  time.Duration
	TotalDuration time.Duration
	RunCount      int64
	Error         error
}
