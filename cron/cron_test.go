package cron

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/storage"
	"github.com/saiset-co/sai-zap/types"
)

func TestParseCron(t *testing.T) {
	expr, ok := ParseCron("// @cron */5 * * * *\n// @cron 0 0 * * *\nexport default () => {}")
	require.True(t, ok)
	assert.Equal(t, "*/5 * * * *", expr)

	expr, ok = ParseCron("const a = 1\n//@cron   0 9 * * 1-5  \n")
	require.True(t, ok)
	assert.Equal(t, "0 9 * * 1-5", expr)

	_, ok = ParseCron("export default () => {} // @cron 0 0 * * *")
	assert.False(t, ok)
}

func TestToEventBridge(t *testing.T) {
	cases := map[string]string{
		"0 9 * * 1-5":  "cron(0 9 ? * 1-5 *)",
		"30 2 1 * *":   "cron(30 2 1 * ? *)",
		"*/5 * * * *":  "cron(*/5 * * * ? *)",
		"0 12 * 6 MON": "cron(0 12 ? 6 MON *)",
	}

	for expr, want := range cases {
		got, err := ToEventBridge(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}

	_, err := ToEventBridge("* * *")
	assert.ErrorIs(t, err, types.ErrCronExpressionInvalid)
}

func TestRuleName(t *testing.T) {
	assert.Equal(t, "zap-cron-jobs-daily-report", RuleName("jobs/daily/report"))
	assert.Equal(t, "zap-cron-tick", RuleName("tick"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@hourly"))
	assert.ErrorIs(t, Validate("0 0 0 * * *"), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, Validate("bogus"), types.ErrCronExpressionInvalid)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), &types.CronConfig{Timezone: "UTC"}, logger.NewNop(), nil)
	require.NoError(t, err)

	return m
}

func TestManagerAddRemove(t *testing.T) {
	m := newTestManager(t)
	noop := func(context.Context) {}

	require.NoError(t, m.Add("b", "@hourly", noop))
	require.NoError(t, m.Add("a", "*/5 * * * *", noop))

	assert.ErrorIs(t, m.Add("a", "@daily", noop), types.ErrCronJobExists)
	assert.ErrorIs(t, m.Add("", "@daily", noop), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, m.Add("c", "", noop), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("c", "not a spec", noop), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("c", "@daily", nil), types.ErrCronJobIsNil)

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)

	require.NoError(t, m.Remove("a"))
	assert.ErrorIs(t, m.Remove("a"), types.ErrCronJobNotFound)
	assert.Len(t, m.Jobs(), 1)
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrCronIsRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Add("late", "@daily", func(context.Context) {}), types.ErrCronSchedulerStopped)
}

func TestWrapJobRecordsStats(t *testing.T) {
	m := newTestManager(t)

	var gotCtx context.Context
	ok := func(ctx context.Context) { gotCtx = ctx }
	boom := func(context.Context) { panic("boom") }

	require.NoError(t, m.Add("ok", "@daily", ok))
	require.NoError(t, m.Add("boom", "@daily", boom))

	m.wrapJob("ok", ok)()
	m.wrapJob("boom", boom)()

	jobs := m.Jobs()
	require.Len(t, jobs, 2)

	failed, succeeded := jobs[0], jobs[1]
	assert.Equal(t, int64(1), succeeded.RunCount)
	assert.NoError(t, succeeded.Error)
	assert.Equal(t, int64(1), failed.RunCount)
	assert.ErrorIs(t, failed.Error, types.ErrCronJobFailed)

	require.NotNil(t, gotCtx)
	_, hasDeadline := gotCtx.Deadline()
	assert.True(t, hasDeadline)
}

type recordingTrigger struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingTrigger) HandleScheduled(_ context.Context, name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func TestSchedulerSync(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	trigger := &recordingTrigger{}

	put := func(key, source string) {
		require.NoError(t, store.Put(ctx, key, []byte(source)))
	}

	put("jobs/report.zap", "// @cron 0 9 * * 1-5\nexport default () => {}")
	put("hello.zap", "export default () => ({ body: 'hi' })")
	put("broken.zap", "// @cron every day\nexport default () => {}")
	put("notes.txt", "// @cron * * * * *")

	s := NewScheduler(newTestManager(t), store, ".zap", trigger, logger.NewNop(), 0)

	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"jobs/report": "0 9 * * 1-5"}, s.Specs())

	jobs := s.manager.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "zap-cron-jobs-report", jobs[0].Name)

	s.manager.cron.Entry(jobs[0].ID).Job.Run()
	assert.Equal(t, []string{"jobs/report"}, trigger.names)

	put("jobs/report.zap", "// @cron 0 10 * * *\nexport default () => {}")
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"jobs/report": "0 10 * * *"}, s.Specs())
	require.Len(t, s.manager.Jobs(), 1)
	assert.Equal(t, "0 10 * * *", s.manager.Jobs()[0].Spec)

	require.NoError(t, store.Delete(ctx, "jobs/report.zap"))
	require.NoError(t, s.Sync(ctx))
	assert.Empty(t, s.Specs())
	assert.Empty(t, s.manager.Jobs())
}

func TestSchedulerRuleNameCollision(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a/b.zap", []byte("// @cron @hourly\nexport default () => {}")))
	require.NoError(t, store.Put(ctx, "a-b.zap", []byte("// @cron @daily\nexport default () => {}")))

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewScheduler(newTestManager(t), store, ".zap", &recordingTrigger{}, logger.NewZapWrapper(zap.New(core)), 0)

	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"a-b": "@daily"}, s.Specs())
	require.Len(t, s.manager.Jobs(), 1)

	entries := logs.FilterMessage("Cron rule name collision, handler not scheduled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a/b", fields["handler"])
	assert.Equal(t, "a-b", fields["conflicts_with"])
	assert.Equal(t, "zap-cron-a-b", fields["rule"])

	require.NoError(t, store.Delete(ctx, "a-b.zap"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, map[string]string{"a/b": "@hourly"}, s.Specs())
}

type failingStore struct {
	types.ObjectStore
}

func (failingStore) List(context.Context, string) ([]string, error) {
	return nil, errors.New("unreachable")
}

func TestSchedulerStartToleratesScanFailure(t *testing.T) {
	s := NewScheduler(newTestManager(t), failingStore{}, ".zap", &recordingTrigger{}, logger.NewNop(), 0)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
