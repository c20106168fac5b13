// Package accessor owns the single writer / pooled-reader database
// handles that every other component routes through. It is the only
// place that opens a *sql.DB against the mnemo database file.
package accessor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/mnemo/internal/store"
)

// Accessor serializes writes through a single connection and fans reads
// out across a small pool, mirroring the teacher's store.New connection
// tuning but splitting reader/writer into separate *sql.DB handles so a
// long-running write transaction never starves readers.
type Accessor struct {
	writer *sql.DB
	reader *sql.DB
	Store  *store.Store

	dataDir string
}

// Options configures Open.
type Options struct {
	DataDir      string
	EmbeddingDim int
	MaxBackups   int // default 5
}

// Open creates the data directory if needed, runs startup self-heal and
// migrations, and returns a ready Accessor.
func Open(ctx context.Context, opts Options) (*Accessor, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	dbPath := filepath.Join(opts.DataDir, "mnemo.db")
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL&_temp_store=MEMORY"

	writer, err := sql.Open("sqlite3", dsn+"&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening writer handle: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader handle: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetConnMaxLifetime(30 * time.Minute)

	if err := writer.PingContext(ctx); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}

	a := &Accessor{writer: writer, reader: reader, dataDir: opts.DataDir}

	st, err := store.Open(ctx, writer, opts.EmbeddingDim)
	if err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.Store = st

	// Self-heal: recreate the FTS mirror if it's missing (e.g. a prior
	// crash mid-migration, or a manually restored backup file).
	hasFTS, err := st.HasFTSTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking fts table: %w", err)
	}
	if !hasFTS {
		slog.Warn("memories_fts missing at startup, rebuilding from memories table")
		if err := st.RebuildFTS(ctx); err != nil {
			return nil, fmt.Errorf("rebuilding fts: %w", err)
		}
	}

	if err := pruneBackups(opts.DataDir, maxBackups); err != nil {
		slog.Warn("pruning old backups", "error", err)
	}

	return a, nil
}

// BackupBeforeMigration copies the live db file to
// <dbPath>.bak-v<version>-<unixts>, so a fatal migration failure can be
// recovered from manually. Neither Open nor the top-level engine
// constructor calls it: Open applies pending migrations through
// store.Open without taking this backup first.
func BackupBeforeMigration(dbPath string, version int) error {
	data, err := os.ReadFile(dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading db for backup: %w", err)
	}
	backupPath := fmt.Sprintf("%s.bak-v%d-%d", dbPath, version, time.Now().Unix())
	return os.WriteFile(backupPath, data, 0o644)
}

func pruneBackups(dataDir string, keep int) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return err
	}
	var backups []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak-v") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) <= keep {
		return nil
	}
	sort.Strings(backups)
	toRemove := backups[:len(backups)-keep]
	for _, name := range toRemove {
		if err := os.Remove(filepath.Join(dataDir, name)); err != nil {
			slog.Warn("removing stale backup", "file", name, "error", err)
		}
	}
	return nil
}

// WithWriteTx runs fn inside a BEGIN IMMEDIATE transaction on the single
// writer connection. fn must never call an LLM or embedding provider: all
// I/O inside a write transaction must be local and fast.
func (a *Accessor) WithWriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := a.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithReadDB runs fn against the pooled reader handle.
func (a *Accessor) WithReadDB(ctx context.Context, fn func(*sql.DB) error) error {
	return fn(a.reader)
}

// DataDir returns the directory the accessor was opened against.
func (a *Accessor) DataDir() string { return a.dataDir }

// Close closes both handles. Idempotent.
func (a *Accessor) Close() error {
	var firstErr error
	if err := a.writer.Close(); err != nil {
		firstErr = err
	}
	if err := a.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
