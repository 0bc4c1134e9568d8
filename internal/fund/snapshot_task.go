package fund

import (
	"fmt"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

// SnapshotTask periodically records every fund's NAV so drawdown and
// statement history keep flowing between capital events.
type SnapshotTask struct {
	svc *Service
}

func NewSnapshotTask(svc *Service) *SnapshotTask {
	return &SnapshotTask{svc: svc}
}

func (t *SnapshotTask) Name() string { return "nav-snapshot" }

func (t *SnapshotTask) Run() error {
	if !t.svc.store.Healthy() {
		return fmt.Errorf("nav snapshot skipped: %w", domain.ErrStorageUnavailable)
	}
	funds, err := t.svc.store.Funds.GetAll()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, f := range funds {
		report, err := t.svc.NavNow(f.ID)
		if err != nil {
			t.svc.log.Error().Err(err).Int64("fund_id", f.ID).Msg("NAV recompute failed")
			continue
		}
		err = t.svc.store.Capital.InsertSnapshot(&domain.NavSnapshot{
			FundID:     f.ID,
			SnapshotAt: now,
			Nav:        report.Nav,
			NavPerUnit: report.NavPerUnit,
			TotalUnits: report.TotalUnits,
			Capital:    report.Capital,
			PnL:        report.PnL,
		})
		if err != nil {
			t.svc.log.Error().Err(err).Int64("fund_id", f.ID).Msg("NAV snapshot insert failed")
		}
	}
	return nil
}
