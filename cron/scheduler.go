package cron

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

const defaultRefreshInterval = time.Minute

// Trigger fires one scheduled invocation of a handler.
type Trigger interface {
	HandleScheduled(ctx context.Context, name string)
}

// Scheduler keeps the cron manager in step with the `@cron` directives of
// handlers in the object store.
type Scheduler struct {
	manager   *Manager
	store     types.ObjectStore
	extension string
	trigger   Trigger
	logger    types.Logger
	refresh   time.Duration

	specs  map[string]string
	mu     sync.Mutex
	state  atomic.Value
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(manager *Manager, store types.ObjectStore, extension string, trigger Trigger, logger types.Logger, refresh time.Duration) *Scheduler {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}

	s := &Scheduler{
		manager:   manager,
		store:     store,
		extension: extension,
		trigger:   trigger,
		logger:    logger,
		refresh:   refresh,
		specs:     make(map[string]string),
	}
	s.state.Store(StateStopped)

	return s
}

func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	ctx, cancel := context.WithCancel(s.manager.ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("Initial cron scan failed", zap.Error(err))
	}

	if err := s.manager.Start(); err != nil {
		cancel()
		s.state.Store(StateStopped)
		return err
	}

	go s.loop(ctx)

	s.state.Store(StateRunning)
	s.logger.Info("Cron scheduler started", zap.Duration("refresh", s.refresh), zap.Int("jobs", len(s.manager.Jobs())))

	return nil
}

func (s *Scheduler) Stop() error {
	if !s.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}
	defer s.state.Store(StateStopped)

	s.cancel()
	<-s.done

	return s.manager.Stop()
}

func (s *Scheduler) IsRunning() bool {
	return s.state.Load().(State) == StateRunning
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("Cron scan failed", zap.Error(err))
			}
		}
	}
}

// Sync lists the store and registers, replaces or removes jobs so that each
// handler carrying a valid `@cron` line has exactly one job.
func (s *Scheduler) Sync(ctx context.Context) error {
	keys, err := s.store.List(ctx, "")
	if err != nil {
		return types.WrapError(err, "failed to list handlers")
	}

	desired := make(map[string]string)
	for _, key := range keys {
		if !strings.HasSuffix(key, s.extension) {
			continue
		}

		name := strings.TrimSuffix(key, s.extension)

		source, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to read handler during cron scan", zap.String("handler", name), zap.Error(err))
			continue
		}

		expr, ok := ParseCron(string(source))
		if !ok {
			continue
		}

		if err := Validate(expr); err != nil {
			s.logger.Warn("Ignoring invalid cron directive", zap.String("handler", name), zap.Error(err))
			continue
		}

		desired[name] = expr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, spec := range s.specs {
		if desired[name] == spec {
			continue
		}
		if err := s.manager.Remove(RuleName(name)); err != nil {
			s.logger.Warn("Failed to remove cron job", zap.String("handler", name), zap.Error(err))
		}
		delete(s.specs, name)
	}

	owners := make(map[string]string, len(s.specs))
	for name := range s.specs {
		owners[RuleName(name)] = name
	}

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := s.specs[name]; ok {
			continue
		}

		spec := desired[name]
		rule := RuleName(name)
		if owner, taken := owners[rule]; taken {
			s.logger.Error("Cron rule name collision, handler not scheduled",
				zap.String("handler", name),
				zap.String("conflicts_with", owner),
				zap.String("rule", rule),
			)
			continue
		}

		if err := s.manager.Add(rule, spec, func(ctx context.Context) {
			s.trigger.HandleScheduled(ctx, name)
		}); err != nil {
			s.logger.Warn("Failed to add cron job", zap.String("handler", name), zap.Error(err))
			continue
		}
		s.specs[name] = spec
		owners[rule] = name
	}

	return nil
}

// Specs returns the handler name to schedule mapping currently registered.
func (s *Scheduler) Specs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs := make(map[string]string, len(s.specs))
	for name, spec := range s.specs {
		specs[name] = spec
	}

	return specs
}
