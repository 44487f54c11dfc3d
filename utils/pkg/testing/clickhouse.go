package pooltesting

import (
	"testing"

	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/revpool/pool/pkg/clickhouse/testing"
	"github.com/stretchr/testify/require"
)

// ClientInfo holds a migrated test client and its database name.
type ClientInfo struct {
	Client   clickhouse.Client
	Database string
}

func NewClickHouseClient(t *testing.T, db *clickhousetesting.DB) clickhouse.Client {
	return NewClickHouseClientWithInfo(t, db).Client
}

// NewClickHouseClientWithInfo creates a client on a fresh database with the
// round_history schema applied.
func NewClickHouseClientWithInfo(t *testing.T, db *clickhousetesting.DB) *ClientInfo {
	info, err := clickhousetesting.NewTestClientWithInfo(t, db)
	require.NoError(t, err)

	err = clickhouse.Up(t.Context(), NewLogger(), db.Config(info.Database))
	require.NoError(t, err)

	return &ClientInfo{
		Client:   info.Client,
		Database: info.Database,
	}
}
