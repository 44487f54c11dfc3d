package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// RoundRow is one revision of a finalized round in round_history.
type RoundRow struct {
	RoundID            uint64
	Revision           uint32
	FinalDay           uint16
	WinLoss            decimal.Decimal
	TotalPlayedVolume  decimal.Decimal
	RevenueTokenSymbol string
	RevenueAmount      *big.Int
	RevSharePercent    decimal.Decimal
	DepositBalance     *big.Int
	Reward             *big.Int
	LuckyRevenue       *big.Int
	TotalStake         *big.Int
	FinalizedAt        time.Time
	ExportedAt         time.Time
}

const roundColumns = `round_id, revision, final_day, win_loss, total_played_volume, revenue_token_symbol,
    revenue_amount, rev_share_percent, deposit_balance, reward, lucky_revenue, total_stake, finalized_at, exported_at`

// InsertRounds appends rows to round_history in one batch.
func InsertRounds(ctx context.Context, conn Connection, rows []RoundRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO round_history ("+roundColumns+")")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Abort()

	for _, r := range rows {
		if err := batch.Append(
			r.RoundID,
			r.Revision,
			r.FinalDay,
			r.WinLoss,
			r.TotalPlayedVolume,
			r.RevenueTokenSymbol,
			orZero(r.RevenueAmount),
			r.RevSharePercent,
			orZero(r.DepositBalance),
			orZero(r.Reward),
			orZero(r.LuckyRevenue),
			orZero(r.TotalStake),
			r.FinalizedAt,
			r.ExportedAt,
		); err != nil {
			return fmt.Errorf("failed to append round %d: %w", r.RoundID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// QueryRounds returns the latest revision of every round, ordered by round.
func QueryRounds(ctx context.Context, conn Connection) ([]RoundRow, error) {
	rows, err := conn.Query(ctx, "SELECT "+roundColumns+" FROM round_history FINAL ORDER BY round_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query round history: %w", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var revenueAmount, depositBalance, reward, lucky, stake big.Int
		if err := rows.Scan(
			&r.RoundID,
			&r.Revision,
			&r.FinalDay,
			&r.WinLoss,
			&r.TotalPlayedVolume,
			&r.RevenueTokenSymbol,
			&revenueAmount,
			&r.RevSharePercent,
			&depositBalance,
			&reward,
			&lucky,
			&stake,
			&r.FinalizedAt,
			&r.ExportedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan round history: %w", err)
		}
		r.RevenueAmount = &revenueAmount
		r.DepositBalance = &depositBalance
		r.Reward = &reward
		r.LuckyRevenue = &lucky
		r.TotalStake = &stake
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read round history: %w", err)
	}
	return out, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
