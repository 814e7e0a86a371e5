package wal

import (
	"github.com/emberdb/emberdb/internal/log"
	"github.com/emberdb/emberdb/internal/txn"
)

// Adapter wraps a Manager as a txn.LogManager. It is a synchronous
// simplification of the interface's async-handoff contract: Submit
// writes the commit record through to the segment (respecting the
// manager's configured SyncOnCommit) and only then invokes callback,
// on the calling goroutine. A background flush/callback pipeline is a
// natural extension once a caller needs Commit to return before the
// record is durable; nothing in the current transaction manager
// depends on that, so Adapter keeps the simpler synchronous path.
type Adapter struct {
	mgr    *Manager
	logger log.Logger
}

// NewAdapter wraps mgr. logger may be nil, in which case log.Default()
// is used.
func NewAdapter(mgr *Manager, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{mgr: mgr, logger: logger.With(log.Component("wal"))}
}

// Enabled reports true: an Adapter only exists when logging is wanted.
// A nil txn.LogManager, not a disabled Adapter, is how the transaction
// manager represents "logging off".
func (a *Adapter) Enabled() bool { return true }

// Submit writes rec's commit to the WAL and invokes callback(arg) once
// the write (and sync, if configured) completes.
func (a *Adapter) Submit(t *txn.TransactionContext, rec txn.CommitRecord, callback func(arg any), arg any) error {
	txnID := uint64(t.TxnID())
	info := CommitInfo{
		TxnID:      txnID,
		StartTS:    uint64(rec.StartTime),
		CommitTS:   uint64(rec.CommitTime),
		IsReadOnly: rec.IsReadOnly,
	}
	if _, err := a.mgr.LogCommitTxn(info); err != nil {
		a.logger.Error("wal: failed to log commit", log.Any("txn_id", txnID), log.Any("error", err))
		return err
	}
	t.LogProcessed = true
	if callback != nil {
		callback(arg)
	}
	return nil
}
