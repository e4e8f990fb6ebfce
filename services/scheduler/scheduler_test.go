package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promohub-payouts/pkg/period"
	"promohub-payouts/pkg/repository"
	"promohub-payouts/services/earnings"
	"promohub-payouts/services/payout"
	"promohub-payouts/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var march2024 = period.Period{Month: time.March, Year: 2024}

type calculatorMock struct {
	periodFn   func(ctx context.Context, p period.Period) (earnings.Summary, error)
	campaignFn func(ctx context.Context, campaignID string) (earnings.Summary, error)
	hasFn      func(ctx context.Context, p period.Period) (bool, error)
	calls      []string
}

func (m *calculatorMock) CalculateForPeriod(ctx context.Context, p period.Period) (earnings.Summary, error) {
	m.calls = append(m.calls, "calculate")
	if m.periodFn != nil {
		return m.periodFn(ctx, p)
	}
	return earnings.Summary{Period: p}, nil
}

func (m *calculatorMock) CalculateForCampaign(ctx context.Context, campaignID string) (earnings.Summary, error) {
	m.calls = append(m.calls, "campaign")
	if m.campaignFn != nil {
		return m.campaignFn(ctx, campaignID)
	}
	return earnings.Summary{CampaignID: campaignID}, nil
}

func (m *calculatorMock) HasCalculationsForPeriod(ctx context.Context, p period.Period) (bool, error) {
	m.calls = append(m.calls, "has")
	if m.hasFn != nil {
		return m.hasFn(ctx, p)
	}
	return false, nil
}

type eligibleMock struct {
	listFn  func(ctx context.Context, filter earnings.EligibleFilter) ([]*earnings.EarningsRecord, error)
	filters []earnings.EligibleFilter
}

func (m *eligibleMock) ListEligible(ctx context.Context, filter earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
	m.filters = append(m.filters, filter)
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *eligibleMock) CountNeedingAttention(ctx context.Context, threshold int) (int64, error) {
	return 0, nil
}

type executorMock struct {
	executeFn func(ctx context.Context, rec *earnings.EarningsRecord) (payout.Result, error)
	executed  []string
}

func (m *executorMock) Execute(ctx context.Context, rec *earnings.EarningsRecord) (payout.Result, error) {
	m.executed = append(m.executed, rec.ID)
	if m.executeFn != nil {
		return m.executeFn(ctx, rec)
	}
	return payout.Result{RecordID: rec.ID}, nil
}

func (m *executorMock) AttentionThreshold() int { return 5 }

type pauseMock bool

func (p pauseMock) Paused(context.Context) bool { return bool(p) }

func newTestScheduler(t *testing.T, calc Calculator, eligible EligibleSource, exec Executor, pause PauseSwitch) (*Scheduler, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &SchedulerRun{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := New(calc, eligible, exec, pause, repository.ProvideStore[SchedulerRun](db), node, time.Hour)
	s.nowFn = func() time.Time { return time.Date(2024, time.March, 20, 9, 0, 0, 0, time.UTC) }
	return s, db
}

func records(ids ...string) []*earnings.EarningsRecord {
	out := make([]*earnings.EarningsRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, &earnings.EarningsRecord{ID: id, PromoterID: "p-" + id, CampaignID: "c1", PeriodMonth: 3, PeriodYear: 2024})
	}
	return out
}

func TestRunOnceCalculatesThenPays(t *testing.T) {
	calc := &calculatorMock{}
	eligible := &eligibleMock{listFn: func(context.Context, earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
		return records("r1", "r2"), nil
	}}
	exec := &executorMock{}
	s, db := newTestScheduler(t, calc, eligible, exec, nil)

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, []string{"has", "calculate"}, calc.calls)
	require.Equal(t, []string{"r1", "r2"}, exec.executed)
	require.Equal(t, 2, report.Paid)
	require.Equal(t, march2024, report.Period)
	require.Equal(t, []earnings.EligibleFilter{{}}, eligible.filters)
	require.Equal(t, StateIdle, s.State())

	var run SchedulerRun
	require.NoError(t, db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunStatusSucceeded, run.Status)
	require.Equal(t, TriggerSchedule, run.Trigger)
	require.Equal(t, 2, run.Paid)
	require.NotNil(t, run.CompletedAt)
}

func TestRunOnceSkipsCalculatedPeriod(t *testing.T) {
	calc := &calculatorMock{hasFn: func(context.Context, period.Period) (bool, error) { return true, nil }}
	s, _ := newTestScheduler(t, calc, &eligibleMock{}, &executorMock{}, nil)

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.True(t, report.CalculationSkipped)
	require.Equal(t, []string{"has"}, calc.calls)
}

func TestRunOncePaysEvenWhenCalculationFails(t *testing.T) {
	calc := &calculatorMock{periodFn: func(context.Context, period.Period) (earnings.Summary, error) {
		return earnings.Summary{}, errors.New("views db down")
	}}
	eligible := &eligibleMock{listFn: func(context.Context, earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
		return records("old"), nil
	}}
	exec := &executorMock{}
	s, db := newTestScheduler(t, calc, eligible, exec, nil)

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Error(t, report.CalculationErr)
	require.Equal(t, []string{"old"}, exec.executed)

	var run SchedulerRun
	require.NoError(t, db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunStatusSucceeded, run.Status)
	require.Contains(t, run.ErrorMsg, "views db down")
}

func TestRunOnceRowFailureDoesNotStopBatch(t *testing.T) {
	eligible := &eligibleMock{listFn: func(context.Context, earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
		return records("r1", "r2", "r3"), nil
	}}
	exec := &executorMock{executeFn: func(_ context.Context, rec *earnings.EarningsRecord) (payout.Result, error) {
		if rec.ID == "r2" {
			return payout.Result{}, &payout.RailError{Category: payout.CategoryTransient, Message: "rail down"}
		}
		return payout.Result{RecordID: rec.ID}, nil
	}}
	s, _ := newTestScheduler(t, &calculatorMock{}, eligible, exec, nil)

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, exec.executed)
	require.Equal(t, 2, report.Paid)
	require.Equal(t, 1, report.Failed)
}

func TestRunOnceSelectionFailureFailsRun(t *testing.T) {
	eligible := &eligibleMock{listFn: func(context.Context, earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
		return nil, errors.New("connection refused")
	}}
	exec := &executorMock{}
	s, db := newTestScheduler(t, &calculatorMock{}, eligible, exec, nil)

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.Error(t, err)
	require.Empty(t, exec.executed)
	require.Equal(t, StateIdle, s.State())

	var run SchedulerRun
	require.NoError(t, db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunStatusFailed, run.Status)
}

func TestRunOncePaused(t *testing.T) {
	calc := &calculatorMock{}
	eligible := &eligibleMock{}
	exec := &executorMock{}
	s, _ := newTestScheduler(t, calc, eligible, exec, pauseMock(true))

	report, err := s.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.True(t, report.PayoutsPaused)
	require.Equal(t, []string{"has", "calculate"}, calc.calls)
	require.Empty(t, eligible.filters)
}

func TestRunPayoutsNowScopesPromoter(t *testing.T) {
	calc := &calculatorMock{}
	eligible := &eligibleMock{}
	s, _ := newTestScheduler(t, calc, eligible, &executorMock{}, nil)

	_, err := s.RunPayoutsNow(context.Background(), "p9")
	require.NoError(t, err)
	require.Equal(t, []earnings.EligibleFilter{{PromoterID: "p9"}}, eligible.filters)
	require.Empty(t, calc.calls)
}

func TestManualCalculations(t *testing.T) {
	calc := &calculatorMock{}
	s, db := newTestScheduler(t, calc, &eligibleMock{}, &executorMock{}, nil)
	ctx := context.Background()

	feb := period.Period{Month: time.February, Year: 2024}
	calc.periodFn = func(_ context.Context, p period.Period) (earnings.Summary, error) {
		require.Equal(t, feb, p)
		return earnings.Summary{Period: p, Calculated: 3}, nil
	}
	report, err := s.RunCalculationNow(ctx, feb)
	require.NoError(t, err)
	require.Equal(t, 3, report.Calculation.Calculated)

	_, err = s.TriggerCalculationForCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"calculate", "campaign"}, calc.calls)

	calc.campaignFn = func(context.Context, string) (earnings.Summary, error) {
		return earnings.Summary{}, errors.New("db down")
	}
	report, err = s.TriggerCalculationForCampaign(ctx, "c1")
	require.Error(t, err)

	var run SchedulerRun
	require.NoError(t, db.First(&run, "id = ?", report.RunID).Error)
	require.Equal(t, RunStatusFailed, run.Status)
	require.Equal(t, "c1", run.CampaignID)
	require.Equal(t, RunKindCalculation, run.Kind)
}

func TestRunsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	exec := &executorMock{executeFn: func(_ context.Context, rec *earnings.EarningsRecord) (payout.Result, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return payout.Result{RecordID: rec.ID}, nil
	}}
	eligible := &eligibleMock{listFn: func(context.Context, earnings.EligibleFilter) ([]*earnings.EarningsRecord, error) {
		return records("r1"), nil
	}}
	s, _ := newTestScheduler(t, &calculatorMock{hasFn: func(context.Context, period.Period) (bool, error) { return true, nil }}, eligible, exec, nil)

	// The mocks are not goroutine safe; the scheduler mutex is what protects them.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.RunOnce(context.Background(), TriggerSchedule)
			} else {
				_, _ = s.RunPayoutsNow(context.Background(), "")
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInFlight.Load())
	require.Len(t, exec.executed, 4)
}

func TestStartStopsOnCancel(t *testing.T) {
	calc := &calculatorMock{hasFn: func(context.Context, period.Period) (bool, error) { return true, nil }}
	s, _ := newTestScheduler(t, calc, &eligibleMock{}, &executorMock{}, nil)
	s.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "calculating_earnings", StateCalculatingEarnings.String())
	require.Equal(t, "selecting_eligible", StateSelectingEligible.String())
	require.Equal(t, "paying_out", StatePayingOut.String())
}
