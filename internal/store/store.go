package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogo/protobuf/proto"
	dbm "github.com/tendermint/tm-db"

	"github.com/orvnode/orv/types"
)

/*
Store is the ledger's key/value layout on top of a tm-db backend.

There are six tables:
 - Blocks:               block with its sideband, by hash
 - Accounts:             AccountInfo, by account
 - Pending:              receivable entries, by (destination, send hash)
 - Confirmation heights: cementation point, by account
 - Pruned:               hashes of blocks removed by pruning
 - Rep weights:          voting weight delegated to each representative

plus a meta table holding the block and cemented counters.

Reads go straight to the database. Writes are staged in a WriteTxn and become
visible atomically on Commit. Only one WriteTxn exists at a time; writers wait
in the WriteQueue.

// NOTE: Store methods will panic if they encounter errors
// deserializing loaded data, indicating probable corruption on disk.
*/
type Store struct {
	db    dbm.DB
	queue *WriteQueue

	commitMtx sync.Mutex
}

// ErrTxnDone is returned when a finished write transaction is used again.
var ErrTxnDone = errors.New("write transaction already committed or discarded")

// New returns a Store over db.
func New(db dbm.DB) *Store {
	return &Store{db: db, queue: NewWriteQueue()}
}

// WriteQueue exposes the writer queue, so callers can see who is waiting.
func (s *Store) WriteQueue() *WriteQueue { return s.queue }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// TxBeginRead returns a view of the committed state.
func (s *Store) TxBeginRead() ReadTxn {
	return ReadTxn{reader{get: s.get}, s}
}

// TxBeginWrite waits until writer is at the head of the write queue and
// returns a transaction owning the single write slot. The transaction must be
// committed or discarded; Discard after Commit is a no-op, so it is safe to
// defer.
func (s *Store) TxBeginWrite(ctx context.Context, writer Writer) (*WriteTxn, error) {
	release, err := s.queue.Acquire(ctx, writer)
	if err != nil {
		return nil, err
	}
	txn := &WriteTxn{
		store:   s,
		batch:   s.db.NewBatch(),
		overlay: make(map[string][]byte),
		release: release,
	}
	txn.reader = reader{get: txn.get}
	return txn, nil
}

func (s *Store) get(key []byte) []byte {
	bz, err := s.db.Get(key)
	if err != nil {
		panic(err)
	}
	return bz
}

//-----------------------------------------------------------------------------

// Reader is the read side shared by read and write transactions.
type Reader interface {
	Block(hash types.Hash) (*types.Block, bool)
	BlockExists(hash types.Hash) bool
	Account(account types.Account) (types.AccountInfo, bool)
	Pending(key types.PendingKey) (types.PendingInfo, bool)
	ConfirmationHeight(account types.Account) types.ConfirmationHeightInfo
	Pruned(hash types.Hash) bool
	RepWeight(rep types.Account) types.Amount
	BlockCount() uint64
	CementedCount() uint64
}

type reader struct {
	get func(key []byte) []byte
}

var _ Reader = reader{}

// Block returns the block with its sideband attached.
func (r reader) Block(hash types.Hash) (*types.Block, bool) {
	bz := r.get(blockKey(hash))
	if len(bz) == 0 {
		return nil, false
	}
	block, err := types.UnmarshalBlock(bz)
	if err != nil {
		panic(fmt.Errorf("error reading block %v: %w", hash, err))
	}
	return block, true
}

func (r reader) BlockExists(hash types.Hash) bool {
	return len(r.get(blockKey(hash))) != 0
}

func (r reader) Account(account types.Account) (types.AccountInfo, bool) {
	bz := r.get(accountKey(account))
	if len(bz) == 0 {
		return types.AccountInfo{}, false
	}
	info, err := types.UnmarshalAccountInfo(bz)
	if err != nil {
		panic(fmt.Errorf("error reading account info %v: %w", account, err))
	}
	return info, true
}

func (r reader) Pending(key types.PendingKey) (types.PendingInfo, bool) {
	bz := r.get(pendingKey(key))
	if len(bz) == 0 {
		return types.PendingInfo{}, false
	}
	info, err := types.UnmarshalPendingInfo(bz)
	if err != nil {
		panic(fmt.Errorf("error reading pending entry %v: %w", key.Hash, err))
	}
	return info, true
}

// ConfirmationHeight returns the zero value for accounts with nothing cemented.
func (r reader) ConfirmationHeight(account types.Account) types.ConfirmationHeightInfo {
	bz := r.get(confirmationHeightKey(account))
	if len(bz) == 0 {
		return types.ConfirmationHeightInfo{}
	}
	info, err := types.UnmarshalConfirmationHeight(bz)
	if err != nil {
		panic(fmt.Errorf("error reading confirmation height %v: %w", account, err))
	}
	return info
}

func (r reader) Pruned(hash types.Hash) bool {
	return len(r.get(prunedKey(hash))) != 0
}

func (r reader) RepWeight(rep types.Account) types.Amount {
	bz := r.get(repWeightKey(rep))
	if len(bz) == 0 {
		return types.Amount{}
	}
	amount, err := types.AmountFromBytes(bz)
	if err != nil {
		panic(fmt.Errorf("error reading weight of %v: %w", rep, err))
	}
	return amount
}

func (r reader) BlockCount() uint64 { return r.counter(metaBlockCount) }

func (r reader) CementedCount() uint64 { return r.counter(metaCementedCount) }

func (r reader) counter(name string) uint64 {
	bz := r.get(metaKey(name))
	if len(bz) == 0 {
		return 0
	}
	v, n := proto.DecodeVarint(bz)
	if n == 0 {
		panic(fmt.Errorf("error reading counter %s: bad varint %X", name, bz))
	}
	return v
}

//-----------------------------------------------------------------------------

// ReadTxn reads committed state. It holds no resources.
type ReadTxn struct {
	reader
	store *Store
}

// ForEachAccount calls fn for every account in key order until fn returns false.
func (txn ReadTxn) ForEachAccount(fn func(types.Account, types.AccountInfo) bool) error {
	return txn.ForEachAccountFrom(types.Account{}, fn)
}

// ForEachAccountFrom is ForEachAccount starting at the first account not
// below start.
func (txn ReadTxn) ForEachAccountFrom(start types.Account, fn func(types.Account, types.AccountInfo) bool) error {
	iter, err := txn.store.db.Iterator(accountKey(start), accountsEnd())
	if err != nil {
		return err
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		account, err := decodeAccountKey(iter.Key())
		if err != nil {
			return err
		}
		info, err := types.UnmarshalAccountInfo(iter.Value())
		if err != nil {
			panic(fmt.Errorf("error reading account info %v: %w", account, err))
		}
		if !fn(account, info) {
			break
		}
	}
	return iter.Error()
}

// PendingFor returns the receivable entries of account.
func (txn ReadTxn) PendingFor(account types.Account) (map[types.PendingKey]types.PendingInfo, error) {
	iter, err := dbm.IteratePrefix(txn.store.db, pendingAccountPrefix(account))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[types.PendingKey]types.PendingInfo)
	for ; iter.Valid(); iter.Next() {
		key, err := decodePendingKey(iter.Key())
		if err != nil {
			return nil, err
		}
		info, err := types.UnmarshalPendingInfo(iter.Value())
		if err != nil {
			panic(fmt.Errorf("error reading pending entry %v: %w", key.Hash, err))
		}
		out[key] = info
	}
	return out, iter.Error()
}

// RepWeights loads the whole weight table.
func (txn ReadTxn) RepWeights() (map[types.Account]types.Amount, error) {
	iter, err := dbm.IteratePrefix(txn.store.db, repWeightPrefix())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[types.Account]types.Amount)
	for ; iter.Valid(); iter.Next() {
		rep, err := decodeRepWeightKey(iter.Key())
		if err != nil {
			return nil, err
		}
		amount, err := types.AmountFromBytes(iter.Value())
		if err != nil {
			panic(fmt.Errorf("error reading weight of %v: %w", rep, err))
		}
		out[rep] = amount
	}
	return out, iter.Error()
}

//-----------------------------------------------------------------------------

// WriteTxn stages writes in a batch. Reads through the transaction see its
// own staged writes.
type WriteTxn struct {
	reader

	store    *Store
	batch    dbm.Batch
	overlay  map[string][]byte // nil marks a delete
	release  func()
	onCommit []func()
	done     bool
}

var _ Reader = (*WriteTxn)(nil)

func (txn *WriteTxn) get(key []byte) []byte {
	if v, ok := txn.overlay[string(key)]; ok {
		return v
	}
	return txn.store.get(key)
}

func (txn *WriteTxn) set(key, value []byte) {
	if txn.done {
		panic(ErrTxnDone)
	}
	if err := txn.batch.Set(key, value); err != nil {
		panic(err)
	}
	txn.overlay[string(key)] = value
}

func (txn *WriteTxn) del(key []byte) {
	if txn.done {
		panic(ErrTxnDone)
	}
	if err := txn.batch.Delete(key); err != nil {
		panic(err)
	}
	txn.overlay[string(key)] = nil
}

// Writes returns the number of staged writes.
func (txn *WriteTxn) Writes() int { return len(txn.overlay) }

// OnCommit registers fn to run after a successful commit, in registration order.
func (txn *WriteTxn) OnCommit(fn func()) {
	txn.onCommit = append(txn.onCommit, fn)
}

// BlockPut stores block together with its sideband.
func (txn *WriteTxn) BlockPut(block *types.Block) {
	if !block.HasSideband() {
		panic(types.ErrBlockSidebandMissing)
	}
	bz, err := types.MarshalBlock(block)
	if err != nil {
		panic(err)
	}
	txn.set(blockKey(block.Hash()), bz)
}

func (txn *WriteTxn) BlockDel(hash types.Hash) { txn.del(blockKey(hash)) }

// BlockSuccessorSet rewrites the sideband successor of the stored block hash.
func (txn *WriteTxn) BlockSuccessorSet(hash, successor types.Hash) {
	block, ok := txn.Block(hash)
	if !ok {
		panic(fmt.Errorf("setting successor of missing block %v", hash))
	}
	sb := *block.Sideband()
	sb.Successor = successor
	block.SetSideband(sb)
	txn.BlockPut(block)
}

func (txn *WriteTxn) AccountPut(account types.Account, info types.AccountInfo) {
	bz, err := types.MarshalAccountInfo(info)
	if err != nil {
		panic(err)
	}
	txn.set(accountKey(account), bz)
}

func (txn *WriteTxn) AccountDel(account types.Account) { txn.del(accountKey(account)) }

func (txn *WriteTxn) PendingPut(key types.PendingKey, info types.PendingInfo) {
	bz, err := types.MarshalPendingInfo(info)
	if err != nil {
		panic(err)
	}
	txn.set(pendingKey(key), bz)
}

func (txn *WriteTxn) PendingDel(key types.PendingKey) { txn.del(pendingKey(key)) }

func (txn *WriteTxn) ConfirmationHeightPut(account types.Account, info types.ConfirmationHeightInfo) {
	bz, err := types.MarshalConfirmationHeight(info)
	if err != nil {
		panic(err)
	}
	txn.set(confirmationHeightKey(account), bz)
}

func (txn *WriteTxn) ConfirmationHeightDel(account types.Account) {
	txn.del(confirmationHeightKey(account))
}

func (txn *WriteTxn) PrunedPut(hash types.Hash) { txn.set(prunedKey(hash), []byte{1}) }

// RepWeightPut stores the weight of rep; a zero weight removes the entry.
func (txn *WriteTxn) RepWeightPut(rep types.Account, weight types.Amount) {
	if weight.IsZero() {
		txn.del(repWeightKey(rep))
		return
	}
	txn.set(repWeightKey(rep), weight.Bytes())
}

func (txn *WriteTxn) BlockCountPut(v uint64) { txn.set(metaKey(metaBlockCount), proto.EncodeVarint(v)) }

func (txn *WriteTxn) CementedCountPut(v uint64) {
	txn.set(metaKey(metaCementedCount), proto.EncodeVarint(v))
}

// Commit writes the batch durably and releases the write slot. On error
// nothing was written and the caller must redo the work in a new
// transaction.
func (txn *WriteTxn) Commit() error {
	if txn.done {
		return ErrTxnDone
	}
	txn.done = true
	defer txn.release()

	txn.store.commitMtx.Lock()
	err := txn.batch.WriteSync()
	txn.store.commitMtx.Unlock()
	if cerr := txn.batch.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("committing write transaction: %w", err)
	}
	for _, fn := range txn.onCommit {
		fn()
	}
	return nil
}

// Discard drops the staged writes and releases the write slot.
func (txn *WriteTxn) Discard() {
	if txn.done {
		return
	}
	txn.done = true
	_ = txn.batch.Close()
	txn.release()
}
