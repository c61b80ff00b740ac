package cementing

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

type cementRecorder struct {
	mtx    sync.Mutex
	blocks []CementedBlock
}

func (r *cementRecorder) observe(cb CementedBlock) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.blocks = append(r.blocks, cb)
}

func (r *cementRecorder) hashes() []types.Hash {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]types.Hash, len(r.blocks))
	for i, cb := range r.blocks {
		out[i] = cb.Block.Hash()
	}
	return out
}

func (r *cementRecorder) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.blocks)
}

func testMetrics() *Metrics {
	m := NopMetrics()
	m.CementedBlocks = generic.NewCounter("cemented")
	m.Errors = generic.NewCounter("errors")
	m.ConfirmingSetRejected = generic.NewCounter("rejected")
	m.BatchSize = generic.NewHistogram("batch_size", 10)
	return m
}

func newTestProcessor(t *testing.T, l *ledger.Ledger, cfg *config.CementingConfig) (*Processor, *cementRecorder, *Metrics) {
	t.Helper()
	if cfg == nil {
		cfg = config.TestCementingConfig()
	}
	m := testMetrics()
	p := NewProcessor(log.TestingLogger(), cfg, l, m)
	rec := &cementRecorder{}
	p.AddObserver(rec.observe)
	return p, rec, m
}

func hashesOf(blocks ...*types.Block) []types.Hash {
	out := make([]types.Hash, len(blocks))
	for i, b := range blocks {
		out[i] = b.Hash()
	}
	return out
}

func confHeight(t *testing.T, l *ledger.Ledger, account types.Account) uint64 {
	t.Helper()
	return l.Store().TxBeginRead().ConfirmationHeight(account).Height
}

// flakyDB fails the next failures batch commits.
type flakyDB struct {
	dbm.DB
	failures int32
}

func (db *flakyDB) NewBatch() dbm.Batch {
	return &flakyBatch{Batch: db.DB.NewBatch(), db: db}
}

type flakyBatch struct {
	dbm.Batch
	db *flakyDB
}

func (b *flakyBatch) WriteSync() error {
	if atomic.AddInt32(&b.db.failures, -1) >= 0 {
		return errors.New("disk full")
	}
	return b.Batch.WriteSync()
}

func counterValue(t *testing.T, c interface{}) float64 {
	t.Helper()
	gc, ok := c.(*generic.Counter)
	require.True(t, ok)
	return gc.Value()
}
