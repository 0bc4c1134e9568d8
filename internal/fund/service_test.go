package fund

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/repo"
	testingpkg "github.com/simdesk/simdesk/internal/testing"
)

func newTestService(t *testing.T) (*Service, *repo.Store, *testingpkg.StaticPnL) {
	t.Helper()
	store, cleanup := testingpkg.NewTestStore(t)
	t.Cleanup(cleanup)
	pnl := testingpkg.NewStaticPnL()
	return NewService(store, pnl, zerolog.Nop()), store, pnl
}

func TestNavPerUnit(t *testing.T) {
	assert.Equal(t, 1.0, navPerUnit(0, 0), "empty fund prices at 1.0")
	assert.Equal(t, 1.0, navPerUnit(500, 0))
	assert.InDelta(t, 1.10, navPerUnit(1100, 1000), 1e-9)
	assert.Equal(t, navPerUnitFloor, navPerUnit(-50, 1000), "floor guards against a wiped-out book")
}

func TestDepositCreatesUnitsAtNav(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	txn, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)

	assert.Equal(t, domain.CapitalDeposit, txn.Type)
	assert.InDelta(t, 1000.0, txn.UnitsDelta, 1e-9, "first deposit prices at 1.0")
	assert.InDelta(t, 1.0, txn.NavPerUnit, 1e-9)
	assert.InDelta(t, 0.0, txn.NavBefore, 1e-9)
	assert.InDelta(t, 1000.0, txn.NavAfter, 1e-9)

	after, err := store.Users.GetByID(owner.ID)
	require.NoError(t, err)
	assert.InDelta(t, owner.Cash-1000, after.Cash, 1e-9, "deposit debits the member's cash")

	snaps, err := store.Capital.GetSnapshots(f.ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "every capital event snapshots the fund")
	assert.InDelta(t, 1000.0, snaps[0].Nav, 1e-9)
	assert.InDelta(t, 1000.0, snaps[0].TotalUnits, 1e-9)
}

func TestDepositAfterGainsBuysFewerUnits(t *testing.T) {
	svc, store, pnl := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)

	// 1000 capital, 1000 units, +100 P&L: NAV/unit is 1.10, so 110
	// buys exactly 100 units and leaves the unit price unchanged.
	pnl.Set(f.ID, 100)

	txn, err := svc.Deposit(f.ID, owner.ID, 110)
	require.NoError(t, err)
	assert.InDelta(t, 1.10, txn.NavPerUnit, 1e-9)
	assert.InDelta(t, 100.0, txn.UnitsDelta, 1e-9)

	report, err := svc.NavNow(f.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1100.0, report.TotalUnits, 1e-9)
	assert.InDelta(t, 1.10, report.NavPerUnit, 1e-9, "deposit leaves existing holders' unit price intact")
}

func TestDepositRejectsBadInput(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = svc.Deposit(f.ID+99, owner.ID, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Deposit(f.ID, owner.ID, owner.Cash+1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	txns, err := store.Capital.GetTransactions(f.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txns, "failed deposits leave no ledger rows")
}

func TestWithdrawBurnsUnits(t *testing.T) {
	svc, store, pnl := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)
	pnl.Set(f.ID, 100)

	txn, err := svc.Withdraw(f.ID, owner.ID, 110)
	require.NoError(t, err)
	assert.Equal(t, domain.CapitalWithdrawal, txn.Type)
	assert.InDelta(t, -100.0, txn.UnitsDelta, 1e-9, "110 at 1.10/unit burns 100 units")

	after, err := store.Users.GetByID(owner.ID)
	require.NoError(t, err)
	assert.InDelta(t, owner.Cash-1000+110, after.Cash, 1e-9)
}

func TestWithdrawCappedByHolding(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 500)
	require.NoError(t, err)

	_, err = svc.Withdraw(f.ID, owner.ID, 600)
	assert.ErrorIs(t, err, domain.ErrInsufficientUnits)

	// Withdrawing the exact holding value clears the stake.
	txn, err := svc.Withdraw(f.ID, owner.ID, 500)
	require.NoError(t, err)
	assert.InDelta(t, -500.0, txn.UnitsDelta, 1e-9)

	_, units, err := store.Capital.NetCapital(f.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, units, 1e-9)
}

func TestNavNowReportsDrawdown(t *testing.T) {
	svc, store, pnl := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)

	pnl.Set(f.ID, -100)
	report, err := svc.NavNow(f.ID)
	require.NoError(t, err)
	assert.InDelta(t, 900.0, report.Nav, 1e-9)
	assert.InDelta(t, 0.90, report.NavPerUnit, 1e-9)
	assert.Positive(t, report.DailyDrawdownPct, "NAV below today's open shows as drawdown")
}

func TestReconcileBalancedFund(t *testing.T) {
	svc, store, pnl := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 1000)
	require.NoError(t, err)
	pnl.Set(f.ID, 50)

	r, err := svc.Reconcile(f.ID)
	require.NoError(t, err)
	assert.True(t, r.IsNavBalanced)
	assert.True(t, r.IsUnitsBalanced)
	assert.True(t, r.IsInvestorLedgerBalanced)
	assert.InDelta(t, 1050.0, r.Nav, 1e-6)
}

func TestReconcileSurfacesFabricatedImbalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := testingpkg.CreateUser(t, store, "owner")
	other := testingpkg.CreateUser(t, store, "other")
	f := testingpkg.CreateFund(t, store, owner.ID)

	_, err := svc.Deposit(f.ID, owner.ID, 100)
	require.NoError(t, err)

	// Tamper with the investor ledger behind the service's back: a raw
	// row burns a unit while the recorded snapshot still says 100.
	require.NoError(t, store.RunInTransaction("test.tamper", func(tx *sql.Tx) error {
		return repo.InsertCapitalTxn(tx, &domain.CapitalTxn{
			FundID:     f.ID,
			UserID:     other.ID,
			Type:       domain.CapitalWithdrawal,
			UnitsDelta: -1,
			NavPerUnit: 1,
			CreatedAt:  time.Now(),
		})
	}))

	r, err := svc.Reconcile(f.ID)
	require.NoError(t, err)
	assert.True(t, r.IsNavBalanced, "zero-amount tamper leaves NAV intact")
	assert.False(t, r.IsUnitsBalanced, "ledger drift is reported, not repaired")
	assert.InDelta(t, -1.0, r.UnitsResidual, 1e-6)
	assert.False(t, r.IsInvestorLedgerBalanced)

	// Reconcile again: the report is stable because nothing self-heals.
	again, err := svc.Reconcile(f.ID)
	require.NoError(t, err)
	assert.InDelta(t, r.UnitsResidual, again.UnitsResidual, 1e-9)
}
