package bootstrap

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ergowatch/watcher/internal/core"
	"github.com/ergowatch/watcher/internal/derived"
	"github.com/ergowatch/watcher/internal/ergoaddr"
	"github.com/ergowatch/watcher/internal/model"
	"github.com/ergowatch/watcher/internal/normalize"
	"github.com/ergowatch/watcher/internal/storage"
)

func testStorage(t *testing.T) *storage.DB {
	t.Helper()
	dsn := os.Getenv("ERGOWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ERGOWATCH_TEST_DATABASE_URL not set, skipping DB-backed bootstrap test")
	}
	ctx := context.Background()
	db, err := storage.Open(ctx, dsn, 30000)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn))
	t.Cleanup(db.Close)
	return db
}

// TestBootstrapRebuildsBalances seeds core.* directly (as a fast-sync
// restore would) and checks Run rebuilds bal.erg and usp.boxes to match,
// then marks meta.bootstrapped.
func TestBootstrapRebuildsBalances(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()

	addr, err := ergoaddr.NewEncoder("mainnet").Encode("0008cd" + fixedPubKeyHex())
	require.NoError(t, err)

	batch := &model.BlockBatch{
		Header: model.Header{Height: 0, ID: normalize.GenesisHeaderID, ParentID: "", Timestamp: 0},
		Transactions: []model.Transaction{
			{ID: normalize.GenesisTxID, HeaderID: normalize.GenesisHeaderID, Height: 0, Index: 0},
		},
		Outputs: []model.Output{
			{BoxID: "box1", TxID: normalize.GenesisTxID, HeaderID: normalize.GenesisHeaderID, CreationHeight: 0, Address: addr, Index: 0, Value: 1000},
		},
		ConservationOK: map[string]bool{normalize.GenesisTxID: true},
	}

	persister := core.New()
	tx, err := db.Pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, persister.Commit(ctx, tx, batch))
	require.NoError(t, tx.Commit(ctx))

	engine := derived.New()
	b := New(db.Pool, engine, db.StatementTimeoutMs)
	require.NoError(t, b.Run(ctx))

	var balance int64
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT value FROM bal.erg WHERE address = $1`, addr).Scan(&balance))
	require.Equal(t, int64(1000), balance)

	var unspentCount int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM usp.boxes WHERE box_id = 'box1'`).Scan(&unspentCount))
	require.Equal(t, 1, unspentCount)

	var flag string
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'bootstrapped'`).Scan(&flag))
	require.Equal(t, "true", flag)

	// Re-running is a no-op once bootstrapped.
	require.NoError(t, b.Run(ctx))
}

func fixedPubKeyHex() string {
	b := make([]byte, 33)
	for i := range b {
		b[i] = byte(i + 1)
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 66)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0x0f])
	}
	return string(out)
}
