package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
	"github.com/malbeclabs/revpool/pool/pkg/history"
)

type ClickHouseSinkConfig struct {
	ClickHouse clickhouse.Client
	Clock      clockwork.Clock
}

// ClickHouseSink appends every written revision to round_history.
type ClickHouseSink struct {
	cfg ClickHouseSinkConfig
}

func NewClickHouseSink(cfg ClickHouseSinkConfig) (*ClickHouseSink, error) {
	if cfg.ClickHouse == nil {
		return nil, errors.New("clickhouse client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &ClickHouseSink{cfg: cfg}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, entries []history.Entry) error {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	now := s.cfg.Clock.Now().UTC()
	rows := make([]clickhouse.RoundRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toRoundRow(e, now))
	}
	return clickhouse.InsertRounds(ctx, conn, rows)
}

func toRoundRow(e history.Entry, exportedAt time.Time) clickhouse.RoundRow {
	return clickhouse.RoundRow{
		RoundID:            e.RoundID,
		Revision:           uint32(e.Revision),
		FinalDay:           uint16(e.FinalDay),
		WinLoss:            e.Info.WinLoss,
		TotalPlayedVolume:  e.Info.TotalPlayedVolume,
		RevenueTokenSymbol: e.Info.RevenueTokenSymbol,
		RevenueAmount:      e.Info.RevenueAmount,
		RevSharePercent:    e.Info.RevSharePercent,
		DepositBalance:     e.Info.DepositBalance,
		Reward:             e.Reward,
		LuckyRevenue:       e.LuckyRevenue,
		TotalStake:         e.TotalStake,
		FinalizedAt:        e.FinalizedAt.UTC(),
		ExportedAt:         exportedAt,
	}
}
