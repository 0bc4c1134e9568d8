package fund

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/simdesk/simdesk/internal/testing"
)

func TestStatementsEmptyForNonInvestor(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	statements, err := svc.Statements(f.ID, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, statements)
}

func TestStatementsCurrentMonth(t *testing.T) {
	svc, store, pnl := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)
	pnl.Set(f.ID, 200)
	_, err = svc.Deposit(f.ID, owner.ID, 120) // snapshots 1.20/unit
	require.NoError(t, err)

	statements, err := svc.Statements(f.ID, owner.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1, "all activity falls in the current month")

	st := statements[0]
	assert.Zero(t, st.OpeningUnits)
	assert.InDelta(t, 1100.0, st.ClosingUnits, 1e-6)
	assert.InDelta(t, 1120.0, st.NetFlows, 1e-6)
	assert.InDelta(t, 1.20, st.ClosingNav, 1e-6)
	assert.InDelta(t, st.ClosingValue-st.OpeningValue-st.NetFlows, st.GrossPnL, 1e-6)

	// Fee estimates follow the fund's configured rates.
	avg := (st.OpeningValue + st.ClosingValue) / 2
	assert.InDelta(t, avg*f.MgmtFeeRate/12, st.ManagementFee, 1e-6)
	if st.GrossPnL > 0 {
		assert.InDelta(t, st.GrossPnL*f.PerfFeeRate, st.PerformanceFee, 1e-6)
	} else {
		assert.Zero(t, st.PerformanceFee, "no performance fee on a losing month")
	}
	assert.InDelta(t, st.GrossPnL-st.ManagementFee-st.PerformanceFee, st.NetPnL, 1e-6)
}

func TestSnapshotTaskAppendsSnapshot(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)
	_, err := svc.Deposit(f.ID, owner.ID, 100)
	require.NoError(t, err)

	task := NewSnapshotTask(svc)
	assert.Equal(t, "nav-snapshot", task.Name())
	require.NoError(t, task.Run())

	snaps, err := store.Capital.GetSnapshots(f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "the periodic task appends a snapshot")
}
