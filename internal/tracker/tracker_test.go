package tracker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ergowatch/watcher/internal/core"
	"github.com/ergowatch/watcher/internal/derived"
	"github.com/ergowatch/watcher/internal/ergoaddr"
	"github.com/ergowatch/watcher/internal/nodeclient"
	"github.com/ergowatch/watcher/internal/normalize"
	"github.com/ergowatch/watcher/internal/storage"
	"github.com/ergowatch/watcher/internal/watcherr"
)

// fakeNode implements NodeClient against a fixed, in-memory set of blocks,
// letting the forward/rollback walk be exercised without a live node.
type fakeNode struct {
	blocksByHeight map[int64]*nodeclient.Block
	blocksByID     map[string]*nodeclient.Block
	genesis        []nodeclient.Output
	tipHeight      int64
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		blocksByHeight: map[int64]*nodeclient.Block{},
		blocksByID:     map[string]*nodeclient.Block{},
	}
}

func (f *fakeNode) addBlock(b *nodeclient.Block) {
	f.blocksByHeight[b.Header.Height] = b
	f.blocksByID[b.Header.ID] = b
	if b.Header.Height > f.tipHeight {
		f.tipHeight = b.Header.Height
	}
}

func (f *fakeNode) GetInfo(ctx context.Context) (*nodeclient.Info, error) {
	return &nodeclient.Info{FullHeight: f.tipHeight}, nil
}

func (f *fakeNode) GetBlockIDAt(ctx context.Context, height int64) (string, error) {
	b, ok := f.blocksByHeight[height]
	if !ok {
		return "", nil
	}
	return b.Header.ID, nil
}

func (f *fakeNode) GetBlock(ctx context.Context, id string) (*nodeclient.Block, error) {
	b, ok := f.blocksByID[id]
	if !ok {
		return nil, errFakeBlockNotFound{id}
	}
	return b, nil
}

func (f *fakeNode) GetHeader(ctx context.Context, id string) (*nodeclient.Header, error) {
	b, ok := f.blocksByID[id]
	if !ok {
		return nil, errFakeBlockNotFound{id}
	}
	h := b.Header
	return &h, nil
}

type errFakeBlockNotFound struct{ id string }

func (e errFakeBlockNotFound) Error() string { return "fake node: block not found: " + e.id }

func (f *fakeNode) GetGenesisBoxes(ctx context.Context) ([]nodeclient.Output, error) {
	return f.genesis, nil
}

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	dsn := os.Getenv("ERGOWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ERGOWATCH_TEST_DATABASE_URL not set, skipping DB-backed tracker test")
	}
	ctx := context.Background()
	db, err := storage.Open(ctx, dsn, 30000)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn))
	t.Cleanup(db.Close)
	return db
}

func newTestTracker(t *testing.T, node NodeClient) *Tracker {
	db := testDB(t)
	normalizer := normalize.New(ergoaddr.NewEncoder("mainnet"))
	return New(node, normalizer, core.New(), derived.New(), db, 10*time.Millisecond, 5)
}

// TestInitSeedsGenesis verifies Init bootstraps an empty core.headers table
// from the node's genesis boxes and sets the in-memory tip to height 0.
func TestInitSeedsGenesis(t *testing.T) {
	node := newFakeNode()
	tr := newTestTracker(t, node)

	err := tr.Init(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), tr.Tip().Height)
	require.Equal(t, normalize.GenesisHeaderID, tr.Tip().ID)
}

// TestApplyForwardAdvancesTip verifies a single block whose parent_id
// matches the current tip is applied and the tip advances.
func TestApplyForwardAdvancesTip(t *testing.T) {
	node := newFakeNode()
	tr := newTestTracker(t, node)
	require.NoError(t, tr.Init(context.Background()))

	genesisID := tr.Tip().ID
	block := &nodeclient.Block{
		Header: nodeclient.Header{ID: "block1", ParentID: genesisID, Height: 1, Timestamp: 1000},
	}
	node.addBlock(block)

	require.NoError(t, tr.step(context.Background()))
	require.Equal(t, int64(1), tr.Tip().Height)
	require.Equal(t, "block1", tr.Tip().ID)
	require.Equal(t, StateForward, tr.State())
}

// TestRollbackTooDeepIsFatal verifies a reorg whose common ancestor sits
// further back than maxRollbackDepth surfaces a *watcherr.Fatal of kind
// fork_too_deep rather than reverting without bound. The node's chain is
// grown to height 3 first, then heights 2-4 are replaced with a competing
// branch that only reconciles two blocks back from the tip.
func TestRollbackTooDeepIsFatal(t *testing.T) {
	node := newFakeNode()
	tr := newTestTracker(t, node)
	tr.maxRollbackDepth = 1
	require.NoError(t, tr.Init(context.Background()))

	genesisID := tr.Tip().ID
	prevID := genesisID
	for h := int64(1); h <= 3; h++ {
		b := &nodeclient.Block{Header: nodeclient.Header{ID: idFor(h), ParentID: prevID, Height: h, Timestamp: h * 1000}}
		node.addBlock(b)
		require.NoError(t, tr.step(context.Background()))
		prevID = b.Header.ID
	}
	require.Equal(t, int64(3), tr.Tip().Height)

	// Node reorgs onto a branch that diverges right after block-1: fork-2
	// and fork-3 replace the node's view at those heights, and fork-4 is
	// the new block the tracker observes at the next poll.
	fork2 := &nodeclient.Block{Header: nodeclient.Header{ID: "fork-2", ParentID: idFor(1), Height: 2, Timestamp: 2001}}
	fork3 := &nodeclient.Block{Header: nodeclient.Header{ID: "fork-3", ParentID: "fork-2", Height: 3, Timestamp: 3001}}
	fork4 := &nodeclient.Block{Header: nodeclient.Header{ID: "fork-4", ParentID: "fork-3", Height: 4, Timestamp: 4001}}
	node.addBlock(fork2)
	node.addBlock(fork3)
	node.addBlock(fork4)

	err := tr.step(context.Background())
	require.Error(t, err)
	var fatal *watcherr.Fatal
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, watcherr.KindForkTooDeep, fatal.Kind)
}

func idFor(h int64) string {
	return "block-" + string(rune('0'+h))
}
