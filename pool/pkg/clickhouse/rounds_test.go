package clickhouse_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
	pooltesting "github.com/malbeclabs/revpool/utils/pkg/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func row(roundID uint64, revision uint32, reward int64) clickhouse.RoundRow {
	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return clickhouse.RoundRow{
		RoundID:            roundID,
		Revision:           revision,
		FinalDay:           14,
		WinLoss:            decimal.RequireFromString("-12.5"),
		TotalPlayedVolume:  decimal.NewFromInt(50000),
		RevenueTokenSymbol: "BUSD",
		RevenueAmount:      big.NewInt(100),
		RevSharePercent:    decimal.NewFromInt(5),
		DepositBalance:     big.NewInt(40),
		Reward:             big.NewInt(reward),
		LuckyRevenue:       big.NewInt(reward),
		TotalStake:         big.NewInt(40),
		FinalizedAt:        at,
		ExportedAt:         at.Add(time.Minute),
	}
}

func TestRevPool_ClickHouse_Migrations(t *testing.T) {
	t.Parallel()
	info := pooltesting.NewClickHouseClientWithInfo(t, testDB)

	version, err := clickhouse.Version(t.Context(), pooltesting.NewLogger(), testDB.Config(info.Database))
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestRevPool_ClickHouse_Rounds(t *testing.T) {
	t.Parallel()
	client := pooltesting.NewClickHouseClient(t, testDB)
	ctx := clickhouse.ContextWithSyncInsert(t.Context())

	conn, err := client.Conn(ctx)
	require.NoError(t, err)

	require.NoError(t, clickhouse.InsertRounds(ctx, conn, nil))
	require.NoError(t, clickhouse.InsertRounds(ctx, conn, []clickhouse.RoundRow{row(0, 1, 90), row(1, 1, 10)}))
	require.NoError(t, clickhouse.InsertRounds(ctx, conn, []clickhouse.RoundRow{row(0, 2, 75)}))

	rows, err := clickhouse.QueryRounds(ctx, conn)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, uint64(0), rows[0].RoundID)
	require.Equal(t, uint32(2), rows[0].Revision)
	require.Equal(t, "75", rows[0].Reward.String())
	require.True(t, rows[0].WinLoss.Equal(decimal.RequireFromString("-12.5")))
	require.Equal(t, "BUSD", rows[0].RevenueTokenSymbol)
	require.True(t, rows[0].FinalizedAt.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))

	require.Equal(t, uint64(1), rows[1].RoundID)
	require.Equal(t, "10", rows[1].Reward.String())
}
