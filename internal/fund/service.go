// Package fund implements the unitised capital ledger: deposits and
// withdrawals priced at the fund's current NAV per unit, snapshots on
// every capital event, reconciliation checks and monthly statements.
package fund

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/repo"
	"github.com/simdesk/simdesk/pkg/logger"
)

const (
	navPerUnitFloor = 1e-4
	withdrawEpsilon = 1e-6
)

// PnLSource supplies a fund's live strategy P&L. The strategy runner
// implements it; NAV falls back to zero when it is absent.
type PnLSource interface {
	FundPnL(fundID int64) float64
}

// Service owns every NAV computation and capital mutation.
type Service struct {
	store *repo.Store
	pnl   PnLSource
	log   zerolog.Logger
}

func NewService(store *repo.Store, pnl PnLSource, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		pnl:   pnl,
		log:   logger.Component(log, "fund_ledger"),
	}
}

// NavReport is the live valuation of one fund.
type NavReport struct {
	FundID           int64   `json:"fundId"`
	Capital          float64 `json:"capital"`
	PnL              float64 `json:"pnl"`
	Nav              float64 `json:"nav"`
	NavPerUnit       float64 `json:"navPerUnit"`
	TotalUnits       float64 `json:"totalUnits"`
	DailyDrawdownPct float64 `json:"dailyDrawdownPct"`
}

func (s *Service) fundPnL(fundID int64) float64 {
	if s.pnl == nil {
		return 0
	}
	return s.pnl.FundPnL(fundID)
}

// navPerUnit prices one unit. Funds with no units outstanding issue at 1.0.
func navPerUnit(nav, units float64) float64 {
	if units <= 0 {
		return 1.0
	}
	return math.Max(navPerUnitFloor, nav/units)
}

// NavNow values the fund from the ledger aggregates and live P&L.
func (s *Service) NavNow(fundID int64) (*NavReport, error) {
	capital, units, err := s.store.Capital.NetCapital(fundID)
	if err != nil {
		return nil, err
	}
	pnl := s.fundPnL(fundID)
	nav := capital + pnl
	report := &NavReport{
		FundID:     fundID,
		Capital:    capital,
		PnL:        pnl,
		Nav:        nav,
		NavPerUnit: navPerUnit(nav, units),
		TotalUnits: units,
	}
	report.DailyDrawdownPct = s.dailyDrawdown(fundID, nav)
	return report, nil
}

// dailyDrawdown compares the current NAV to today's snapshot peak.
func (s *Service) dailyDrawdown(fundID int64, nav float64) float64 {
	snaps, err := s.store.Capital.GetSnapshots(fundID, 200)
	if err != nil {
		return 0
	}
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	peak := nav
	for _, snap := range snaps {
		if snap.SnapshotAt.Before(dayStart) {
			break
		}
		if snap.Nav > peak {
			peak = snap.Nav
		}
	}
	if peak <= 0 {
		return 0
	}
	return (peak - nav) / peak * 100
}

// Deposit subscribes a user into the fund at the current NAV per unit.
func (s *Service) Deposit(fundID, userID int64, amount float64) (*domain.CapitalTxn, error) {
	return s.capitalEvent(fundID, userID, amount, domain.CapitalDeposit)
}

// Withdraw redeems units for cash at the current NAV per unit.
func (s *Service) Withdraw(fundID, userID int64, amount float64) (*domain.CapitalTxn, error) {
	return s.capitalEvent(fundID, userID, amount, domain.CapitalWithdrawal)
}

// capitalEvent runs the whole deposit/withdrawal flow in one transaction:
// lock the user row, read the fund aggregates, price units at the
// pre-event NAV, move cash, append the ledger row and snapshot the new
// aggregates.
func (s *Service) capitalEvent(fundID, userID int64, amount float64, kind string) (*domain.CapitalTxn, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrInvalid)
	}
	if _, err := s.store.Funds.GetByID(fundID); err != nil {
		return nil, err
	}

	pnl := s.fundPnL(fundID)
	var txn *domain.CapitalTxn

	err := s.store.RunInTransaction("fund.capital_event", func(tx *sql.Tx) error {
		cash, err := repo.CashForUpdate(tx, userID)
		if err != nil {
			return err
		}
		capitalBefore, unitsBefore, err := repo.NetCapitalTx(tx, fundID)
		if err != nil {
			return err
		}

		navBefore := capitalBefore + pnl
		perUnit := navPerUnit(navBefore, unitsBefore)

		var unitsDelta, cashDelta, navAfter float64
		switch kind {
		case domain.CapitalDeposit:
			if amount > cash {
				return fmt.Errorf("deposit %.2f exceeds available cash %.2f: %w",
					amount, cash, domain.ErrInsufficientFunds)
			}
			unitsDelta = amount / perUnit
			cashDelta = -amount
			navAfter = navBefore + amount
		case domain.CapitalWithdrawal:
			userUnits, err := repo.InvestorUnitsTx(tx, fundID, userID)
			if err != nil {
				return err
			}
			if amount > userUnits*perUnit+withdrawEpsilon {
				return fmt.Errorf("withdrawal %.2f exceeds investor value %.2f: %w",
					amount, userUnits*perUnit, domain.ErrInsufficientUnits)
			}
			unitsDelta = -math.Min(userUnits, amount/perUnit)
			cashDelta = amount
			navAfter = navBefore - amount
		default:
			return fmt.Errorf("unknown capital event type %q: %w", kind, domain.ErrInvalid)
		}

		if err := repo.UpdateCash(tx, userID, cash+cashDelta); err != nil {
			return err
		}

		now := time.Now().UTC()
		txn = &domain.CapitalTxn{
			FundID:     fundID,
			UserID:     userID,
			Amount:     amount,
			Type:       kind,
			UnitsDelta: unitsDelta,
			NavPerUnit: perUnit,
			NavBefore:  navBefore,
			NavAfter:   navAfter,
			CreatedAt:  now,
		}
		if err := repo.InsertCapitalTxn(tx, txn); err != nil {
			return err
		}

		unitsAfter := unitsBefore + unitsDelta
		capitalAfter := capitalBefore + amount
		if kind == domain.CapitalWithdrawal {
			capitalAfter = capitalBefore - amount
		}
		return repo.InsertSnapshotTx(tx, &domain.NavSnapshot{
			FundID:     fundID,
			SnapshotAt: now,
			Nav:        navAfter,
			NavPerUnit: navPerUnit(navAfter, unitsAfter),
			TotalUnits: unitsAfter,
			Capital:    capitalAfter,
			PnL:        pnl,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("fund_id", fundID).
		Int64("user_id", userID).
		Str("type", kind).
		Float64("amount", amount).
		Float64("units_delta", txn.UnitsDelta).
		Msg("Capital event booked")
	return txn, nil
}
