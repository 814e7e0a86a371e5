// Command txnbench drives the transaction manager against the
// in-memory reference table, printing a summary of throughput and GC
// handoff activity. It exists to exercise Begin/Update/Commit/Abort end
// to end the way a real storage engine would, not as a production
// server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/emberdb/emberdb/internal/config"
	"github.com/emberdb/emberdb/internal/errors"
	"github.com/emberdb/emberdb/internal/log"
	"github.com/emberdb/emberdb/internal/storage"
	"github.com/emberdb/emberdb/internal/txn"
	"github.com/emberdb/emberdb/internal/txnbuf"
	"github.com/emberdb/emberdb/internal/wal"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		dataDir     = flag.String("data", "./data", "Data directory")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		workers     = flag.Int("workers", 4, "Number of concurrent worker goroutines")
		txnsPer     = flag.Int("txns", 2000, "Transactions per worker")
		abortRate   = flag.Float64("abort-rate", 0.1, "Fraction of transactions that abort instead of committing")
		withWAL     = flag.Bool("wal", false, "Route commit records through the WAL manager instead of a synchronous no-op")
		withGC      = flag.Bool("gc", true, "Enable the GC handoff queue")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("txnbench v%s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	cfg.LoadFromEnv()
	cfg.LoadFromFlags(*dataDir, *logLevel, withGC)
	cfg.WAL.Enabled = *withWAL

	logger := log.NewTextLogger(log.ParseLevel(cfg.Log.Level))
	logger.Info("starting txnbench",
		"version", version, "commit", commit,
		"workers", *workers, "txns_per_worker", *txnsPer,
		"gc_enabled", cfg.Manager.GCEnabled, "wal_enabled", cfg.WAL.Enabled)

	if cfg.WAL.Enabled {
		if err := os.MkdirAll(cfg.GetWALDirectory(), 0o755); err != nil {
			logger.Error("failed to create wal directory", "error", err)
			os.Exit(1)
		}
	}

	pool := txnbuf.NewPool(&txnbuf.Config{
		SegmentRecords: cfg.TxnBuffer.SegmentRecords,
		MaxSegments:    cfg.TxnBuffer.MaxSegments,
	})

	var logManager txn.LogManager
	var walMgr *wal.Manager
	if cfg.WAL.Enabled {
		var err error
		walMgr, err = wal.NewManager(cfg.ToWALConfig())
		if err != nil {
			logger.Error("failed to create wal manager", "error", err)
			os.Exit(1)
		}
		defer walMgr.Close()
		logManager = wal.NewAdapter(walMgr, logger)
	}

	manager := txn.NewManager(&txn.ManagerOptions{
		GCEnabled:   cfg.Manager.GCEnabled,
		LogManager:  logManager,
		SegmentPool: pool,
		Logger:      logger,
	})

	var checkpointer *wal.Checkpointer
	if walMgr != nil {
		checkpointer = wal.NewCheckpointer(walMgr, manager, nil, logger)
		checkpointer.Start()
		defer checkpointer.Stop()
	}

	layout := storage.NewMemBlockLayout([]bool{false, true}, []int{8, 64})
	table := storage.NewMemTable(1, layout)

	// Insert places every row in block 0; one block holds 96 rows of
	// this 81-byte layout (plus a 4-byte slot entry each).
	const numRows = 64
	slots := make([]txn.TupleSlot, numRows)
	for i := 0; i < numRows; i++ {
		slot, err := table.Insert([][]byte{
			encodeCounter(0),
			[]byte(fmt.Sprintf("row-%d", i)),
		})
		if err != nil {
			logger.Error("failed to seed table", "error", err)
			os.Exit(1)
		}
		slots[i] = slot
	}

	start := time.Now()
	var committed, aborted, conflicted uint64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			tc := manager.RegisterWorker(int64(workerID))
			defer manager.UnregisterWorker(tc)

			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			for i := 0; i < *txnsPer; i++ {
				txCtx := manager.Begin(tc)
				slot := slots[rng.Intn(numRows)]

				installed, err := table.Update(txCtx, slot, map[txn.ColumnID][]byte{
					1: []byte(fmt.Sprintf("w%d-%d", workerID, i)),
				})
				if err != nil {
					logger.Error("update failed", "error", err)
					continue
				}
				if !installed {
					logger.Debug("update lost a CAS race", "detail", errors.SerializationError(fmt.Sprintf("slot %+v", slot)).Error())
				}

				if rng.Float64() < *abortRate {
					if err := manager.Abort(txCtx); err != nil {
						logAbortOrCommitFailure(logger, "abort failed", err)
					}
					mu.Lock()
					aborted++
					mu.Unlock()
					continue
				}

				if _, err := manager.Commit(txCtx, nil, nil); err != nil {
					logAbortOrCommitFailure(logger, "commit failed", err)
					continue
				}
				mu.Lock()
				committed++
				if !installed {
					conflicted++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if checkpointer != nil {
		if lsn, err := checkpointer.Checkpoint(); err != nil {
			logger.Error("checkpoint failed", "error", err)
		} else {
			logger.Info("final checkpoint written", "lsn", uint64(lsn))
		}
	}

	gcTotal := 0
	for {
		batch := manager.DrainCompleted()
		if len(batch) == 0 {
			break
		}
		gcTotal += len(batch)
	}

	stats := manager.Stats()
	logger.Info("txnbench complete",
		slog.Duration("elapsed", elapsed),
		slog.Uint64("committed", committed),
		slog.Uint64("aborted", aborted),
		slog.Uint64("conflicted_but_committed", conflicted),
		slog.Int("gc_handoff_total", gcTotal),
		slog.Int("running_transactions", stats.RunningTransactions),
		slog.Uint64("oldest_start_time", uint64(stats.OldestStartTime)),
		slog.Int("blocks_allocated", table.BlockCount()))

	if err := manager.Close(); err != nil {
		logger.Error("close failed", "error", err)
		os.Exit(1)
	}
}

// logAbortOrCommitFailure logs err with its SQLSTATE-style code, detail
// and hint when the manager raised a structured *errors.Error (a
// double-finalization guard or a rollback protocol violation, for
// example), falling back to a plain error log otherwise.
func logAbortOrCommitFailure(logger log.Logger, msg string, err error) {
	qerr := errors.GetError(err)
	if qerr == nil {
		logger.Error(msg, "error", err)
		return
	}
	logger.Error(msg, "code", qerr.Code, "detail", qerr.Detail, "hint", qerr.Hint)
}

func encodeCounter(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
