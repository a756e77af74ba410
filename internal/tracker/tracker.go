// Package tracker implements the Chain Tracker (C5): the forward/rollback
// state machine that drives C1-C4 per block.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/core"
	"github.com/ergowatch/watcher/internal/derived"
	"github.com/ergowatch/watcher/internal/log"
	"github.com/ergowatch/watcher/internal/metrics"
	"github.com/ergowatch/watcher/internal/model"
	"github.com/ergowatch/watcher/internal/nodeclient"
	"github.com/ergowatch/watcher/internal/normalize"
	"github.com/ergowatch/watcher/internal/storage"
	"github.com/ergowatch/watcher/internal/watcherr"
)

var logger = log.New("tracker")

// State is one of the tracker's four states.
type State int

const (
	StateIdle State = iota
	StateForward
	StateRollback
	StateFatal
)

// Tip is the tracker's in-memory notion of the current main-chain head.
type Tip struct {
	Height int64
	ID     string
}

// NodeClient is the subset of nodeclient.Client the tracker depends on.
// Narrowing to an interface keeps the forward/rollback state machine
// testable against a fake, independent of the HTTP client underneath.
type NodeClient interface {
	GetInfo(ctx context.Context) (*nodeclient.Info, error)
	GetBlockIDAt(ctx context.Context, height int64) (string, error)
	GetBlock(ctx context.Context, id string) (*nodeclient.Block, error)
	GetHeader(ctx context.Context, id string) (*nodeclient.Header, error)
	GetGenesisBoxes(ctx context.Context) ([]nodeclient.Output, error)
}

// txBeginner is the one pgxpool.Pool capability the tracker needs. Narrowed
// to an interface so the forward/rollback state machine can be driven in
// tests against a fake transaction source.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Tracker owns the tip and drives C1-C4 for each block.
type Tracker struct {
	node       NodeClient
	normalizer *normalize.Normalizer
	persister  *core.Persister
	engine     *derived.Engine
	db         txBeginner

	statementTimeoutMs int
	pollInterval       time.Duration
	maxRollbackDepth   int

	state State
	tip   Tip
}

// New builds a Tracker. The tip is uninitialized until Init is called.
func New(node NodeClient, normalizer *normalize.Normalizer, persister *core.Persister, engine *derived.Engine, db *storage.DB, pollInterval time.Duration, maxRollbackDepth int) *Tracker {
	return &Tracker{
		node:               node,
		normalizer:         normalizer,
		persister:          persister,
		engine:             engine,
		db:                 db.Pool,
		statementTimeoutMs: db.StatementTimeoutMs,
		pollInterval:       pollInterval,
		maxRollbackDepth:   maxRollbackDepth,
		state:              StateIdle,
	}
}

// State returns the tracker's current state.
func (t *Tracker) State() State { return t.state }

// Tip returns the tracker's current in-memory chain head.
func (t *Tracker) Tip() Tip { return t.tip }

// Init loads the in-memory tip from core.headers, seeding genesis (height
// 0) if the table is empty.
func (t *Tracker) Init(ctx context.Context) error {
	var h *model.Header
	err := t.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		h, err = t.persister.LatestHeader(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	if h == nil {
		if err := t.commitGenesis(ctx); err != nil {
			return err
		}
		t.tip = Tip{Height: 0, ID: normalize.GenesisHeaderID}
		return nil
	}
	t.tip = Tip{Height: h.Height, ID: h.ID}
	return nil
}

func (t *Tracker) commitGenesis(ctx context.Context) error {
	boxes, err := t.node.GetGenesisBoxes(ctx)
	if err != nil {
		return err
	}
	batch, err := t.normalizer.Genesis(boxes)
	if err != nil {
		return err
	}
	return t.withTx(ctx, func(tx pgx.Tx) error {
		if err := t.persister.Commit(ctx, tx, batch); err != nil {
			return err
		}
		return t.engine.ApplyForward(ctx, tx, batch)
	})
}

func (t *Tracker) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return err
	}
	if t.statementTimeoutMs > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", t.statementTimeoutMs)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Run drives the main loop until ctx is cancelled (clean shutdown, exit
// code 0) or a fatal condition is hit (exit code per watcherr.ExitCode).
// A cooperative shutdown lets the current block finish (commit or
// rollback) before returning.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("shutdown requested, exiting cleanly", "tip_height", t.tip.Height)
			return nil
		}

		info, err := t.node.GetInfo(ctx)
		if err != nil {
			if nodeclient.IsTransient(err) {
				t.sleep(ctx)
				continue
			}
			return watcherr.NewProtocol(t.tip.Height, err)
		}

		if info.FullHeight <= t.tip.Height {
			t.sleep(ctx)
			continue
		}

		if err := t.step(ctx); err != nil {
			var fatal *watcherr.Fatal
			if errors.As(err, &fatal) {
				t.state = StateFatal
				return fatal
			}
			// Any error that is not a *watcherr.Fatal is retried after
			// the poll interval. applyForward and rollback wrap every DB
			// error of a block step as KindIntegrity, so a failed commit
			// or revert ends the loop instead of being retried.
			logger.Warn("step failed, retrying", "err", err, "tip_height", t.tip.Height)
			t.sleep(ctx)
		}
	}
}

func (t *Tracker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(t.pollInterval):
	}
}

// step fetches and applies exactly one block, or enters Rollback when a
// fork is detected.
func (t *Tracker) step(ctx context.Context) error {
	nextHeight := t.tip.Height + 1

	blockID, err := t.node.GetBlockIDAt(ctx, nextHeight)
	if err != nil {
		if nodeclient.IsTransient(err) || nodeclient.IsNotFound(err) {
			return nil
		}
		return watcherr.NewProtocol(nextHeight, err)
	}
	if blockID == "" {
		return nil
	}

	block, err := t.node.GetBlock(ctx, blockID)
	if err != nil {
		if nodeclient.IsTransient(err) {
			return nil
		}
		return watcherr.NewProtocol(nextHeight, err)
	}

	if block.Header.ParentID == t.tip.ID {
		return t.applyForward(ctx, block)
	}

	return t.rollback(ctx, block)
}

func (t *Tracker) applyForward(ctx context.Context, block *nodeclient.Block) error {
	t.state = StateForward

	var batch *model.BlockBatch
	var normalizeFailed bool
	start := time.Now()
	err := t.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		batch, err = t.normalizer.Normalize(ctx, tx, block)
		if err != nil {
			normalizeFailed = true
			return err
		}
		if err := t.persister.Commit(ctx, tx, batch); err != nil {
			return err
		}
		return t.engine.ApplyForward(ctx, tx, batch)
	})
	metrics.CommitLatencyMs.UpdateSince(start)
	if err != nil {
		if normalizeFailed {
			return watcherr.NewProtocol(block.Header.Height, err)
		}
		return watcherr.NewIntegrity(block.Header.Height, err)
	}

	for txID, ok := range batch.ConservationOK {
		if !ok {
			logger.Warn("conservation check failed", "tx_id", txID, "height", block.Header.Height)
		}
	}

	t.tip = Tip{Height: block.Header.Height, ID: block.Header.ID}
	metrics.BlocksProcessed.Inc(1)
	metrics.TipHeight.Update(t.tip.Height)
	logger.Info("applied block", "height", t.tip.Height, "id", t.tip.ID)
	return nil
}

// rollback walks backward from the current tip until it reaches
// forkBlock's parent, bounded by maxRollbackDepth. The fork's parent_id
// is held fixed while the new tip sits directly below forkBlock; once the
// walk goes deeper, forkBlock is replaced by the node's block at the new
// tip's height+1. When the node has no block there, the previous forkBlock
// is kept rather than treating the empty answer as a match.
func (t *Tracker) rollback(ctx context.Context, forkBlock *nodeclient.Block) error {
	t.state = StateRollback
	metrics.ForksDetected.Inc(1)
	logger.Warn("fork detected", "tip_height", t.tip.Height, "tip_id", t.tip.ID, "incoming_parent_id", forkBlock.Header.ParentID)

	depth := 0
	for t.tip.ID != forkBlock.Header.ParentID {
		if t.tip.Height == 0 {
			return watcherr.NewIntegrity(t.tip.Height, errInvalidRollbackPastGenesis)
		}
		depth++
		if depth > t.maxRollbackDepth {
			return watcherr.NewForkTooDeep(t.tip.Height, depth, t.maxRollbackDepth)
		}
		metrics.RollbackDepth.Update(int64(depth))

		revertedID := t.tip.ID
		var newTip Tip
		revertStart := time.Now()
		err := t.withTx(ctx, func(tx pgx.Tx) error {
			if err := t.engine.ApplyRevert(ctx, tx, revertedID); err != nil {
				return err
			}
			if err := t.persister.Revert(ctx, tx, revertedID); err != nil {
				return err
			}
			h, err := t.persister.LatestHeader(ctx, tx)
			if err != nil {
				return err
			}
			if h == nil {
				return errInvalidRollbackPastGenesis
			}
			newTip = Tip{Height: h.Height, ID: h.ID}
			return nil
		})
		metrics.RevertLatencyMs.UpdateSince(revertStart)
		if err != nil {
			return watcherr.NewIntegrity(t.tip.Height, err)
		}
		t.tip = newTip
		logger.Info("reverted block", "id", revertedID, "new_tip_height", t.tip.Height)

		// forkBlock.Header.ParentID may itself sit below the now-current
		// tip's height if the reorg is deeper than one block; re-fetch the
		// competing block at the new tip's height+1 so the next loop
		// iteration compares against the actual competing branch, not a
		// stale forkBlock left over from the first fork detection.
		if t.tip.Height+1 != forkBlock.Header.Height {
			nextID, err := t.node.GetBlockIDAt(ctx, t.tip.Height+1)
			if err != nil {
				if nodeclient.IsTransient(err) || nodeclient.IsNotFound(err) {
					continue
				}
				return watcherr.NewProtocol(t.tip.Height, err)
			}
			if nextID == "" {
				continue
			}
			next, err := t.node.GetBlock(ctx, nextID)
			if err != nil {
				if nodeclient.IsTransient(err) {
					continue
				}
				return watcherr.NewProtocol(t.tip.Height, err)
			}
			forkBlock = next
		}
	}

	t.state = StateForward
	return t.applyForward(ctx, forkBlock)
}

var errInvalidRollbackPastGenesis = errRollbackPastGenesis{}

type errRollbackPastGenesis struct{}

func (errRollbackPastGenesis) Error() string { return "rollback would revert past genesis" }
