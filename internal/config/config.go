// Package config centralizes engine configuration. It follows a "clean"
// configuration pattern where all tunables live outside the code and are
// sourced from command-line flags with environment-variable fallbacks
// (12-factor friendly). Flags are defined first so that `-help` shows all
// available knobs and their defaults.
//
// Typical usage:
//
//	cfg := config.Load() // reads os.Args and os.Environ
//
// For tests, prefer LoadFromArgs to keep them hermetic:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	cfg := config.LoadFromArgs(fs, getenv, []string{"-chunk_size=50000"})
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// EngineConfig holds every tunable named in the engine's configuration
// surface. All fields are plain values so the struct can be safely copied
// and used across goroutines after construction.
type EngineConfig struct {
	// Chunking controls how many rows are loaded into memory at once.
	ChunkSize    int // Initial streaming chunk size in rows.
	MinChunkSize int // Floor for adaptive chunk sizing.
	MaxChunkSize int // Ceiling for adaptive chunk sizing.

	// Dedup controls the memory-to-spill threshold for the dedup set.
	MaxMemKeys int

	// Input/output policy.
	MaxFileBytes      int64    // Reject inputs whose size exceeds this value (0 = no limit).
	MaxBackups        int      // Retention count for output backups.
	BackupMaxAge      int      // Retention window in days for output backups, in addition to MaxBackups.
	AllowedExtensions []string // Whitelist for input file extensions.

	// Timing.
	DeadlineSeconds int // Per-job wall clock limit.

	// Memory monitor thresholds, expressed as percentages (0-100) of
	// MemBudgetBytes.
	HighWatermark  int
	LowWatermark   int
	HardCap        int
	MemBudgetBytes int64 // 0 disables the memory monitor for cleancsv/mergedir

	// DryRunChunks, when > 0, bounds a preview run to that many chunks
	// without writing output (supplemented feature, see SPEC_FULL.md §9).
	DryRunChunks int

	// IndexRunBytes bounds the memory budget of one external-sort run during
	// index building (column-add mode).
	IndexRunBytes int64

	// MaxJoinMemory bounds the peak resident set during the streaming join,
	// beyond the cost of one chunk.
	MaxJoinMemory int64

	// StaleLockAge is the age, in seconds, after which an advisory lock file
	// owned by a dead process is considered stale and may be stolen.
	StaleLockAge int

	// Ledger selects the optional Job Run Ledger backend: "", "sqlite",
	// "postgres", or "mssql". Empty disables the ledger entirely.
	Ledger string
	// LedgerDSN is the connection string for postgres/mssql ledger backends,
	// or a file path for the sqlite backend.
	LedgerDSN string
}

// LoadFromArgs builds an EngineConfig by defining flags on fs, wiring each
// flag to an environment-variable fallback via getenv, and then parsing
// args. This is the most testable entry point: callers supply a private
// FlagSet, a getenv func (often backed by a map), and a synthetic arg slice.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
//
// The returned EngineConfig is fully populated; no further mutation occurs.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) *EngineConfig {
	cfg := &EngineConfig{}

	// Inline helpers use the provided getenv to avoid touching process env.
	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOrDefaultFn := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	int64EnvOrDefaultFn := func(k string, d int64) int64 {
		if v := getenv(k); v != "" {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i
			}
		}
		return d
	}

	// Chunking
	fs.IntVar(&cfg.ChunkSize, "chunk_size", intEnvOrDefaultFn("CHUNK_SIZE", 50_000), "Initial streaming chunk size in rows")
	fs.IntVar(&cfg.MinChunkSize, "min_chunk_size", intEnvOrDefaultFn("MIN_CHUNK_SIZE", 5_000), "Floor for adaptive chunk sizing")
	fs.IntVar(&cfg.MaxChunkSize, "max_chunk_size", intEnvOrDefaultFn("MAX_CHUNK_SIZE", 200_000), "Ceiling for adaptive chunk sizing")

	// Dedup
	fs.IntVar(&cfg.MaxMemKeys, "max_mem_keys", intEnvOrDefaultFn("MAX_MEM_KEYS", 5_000_000), "Dedup set memory-to-spill threshold")

	// Input/output policy
	fs.Int64Var(&cfg.MaxFileBytes, "max_file_bytes", int64EnvOrDefaultFn("MAX_FILE_BYTES", 0), "Reject inputs whose size exceeds this value (0 disables)")
	fs.IntVar(&cfg.MaxBackups, "max_backups", intEnvOrDefaultFn("MAX_BACKUPS", 5), "Retention count for output backups")
	fs.IntVar(&cfg.BackupMaxAge, "backup_max_age_days", intEnvOrDefaultFn("BACKUP_MAX_AGE_DAYS", 30), "Retention window in days for output backups")
	var allowedExt string
	fs.StringVar(&allowedExt, "allowed_extensions", envOrDefaultFn("ALLOWED_EXTENSIONS", ".csv"), "Comma-separated whitelist of input file extensions")
	cfg.AllowedExtensions = splitAndTrim(allowedExt)

	// Timing
	fs.IntVar(&cfg.DeadlineSeconds, "deadline_seconds", intEnvOrDefaultFn("DEADLINE_SECONDS", 2*60*60), "Per-job wall clock limit in seconds")

	// Memory monitor
	fs.IntVar(&cfg.HighWatermark, "high_watermark", intEnvOrDefaultFn("HIGH_WATERMARK", 75), "Memory utilization percent that halves chunk size")
	fs.IntVar(&cfg.LowWatermark, "low_watermark", intEnvOrDefaultFn("LOW_WATERMARK", 40), "Memory utilization percent that doubles chunk size")
	fs.IntVar(&cfg.HardCap, "hard_cap", intEnvOrDefaultFn("HARD_CAP", 90), "Memory utilization percent that aborts the job")
	fs.Int64Var(&cfg.MemBudgetBytes, "mem_budget_bytes", int64EnvOrDefaultFn("MEM_BUDGET_BYTES", 0), "Memory budget in bytes treated as 100% utilization (0 disables the monitor)")

	// Supplemented features
	fs.IntVar(&cfg.DryRunChunks, "dry_run_chunks", intEnvOrDefaultFn("DRY_RUN_CHUNKS", 0), "Preview only the first N chunks without writing output (0 disables)")

	// Column-add
	fs.Int64Var(&cfg.IndexRunBytes, "index_run_bytes", int64EnvOrDefaultFn("INDEX_RUN_BYTES", 256<<20), "Memory budget per external-sort run when building the index")
	fs.Int64Var(&cfg.MaxJoinMemory, "max_join_memory", int64EnvOrDefaultFn("MAX_JOIN_MEMORY", 1<<30), "Peak resident set budget during the streaming join")

	// Locking
	fs.IntVar(&cfg.StaleLockAge, "stale_lock_age_seconds", intEnvOrDefaultFn("STALE_LOCK_AGE_SECONDS", 60*60), "Age in seconds after which a dead-owner lock file is stealable")

	// Ledger
	fs.StringVar(&cfg.Ledger, "ledger", envOrDefaultFn("LEDGER", ""), "Job Run Ledger backend: '', 'sqlite', 'postgres', or 'mssql'")
	fs.StringVar(&cfg.LedgerDSN, "ledger_dsn", envOrDefaultFn("LEDGER_DSN", ""), "Ledger connection string or sqlite file path")

	// Parse the provided args (nil means no extra args).
	if args == nil {
		args = []string{}
	}
	_ = fs.Parse(args)
	cfg.AllowedExtensions = splitAndTrim(allowedExt)
	return cfg
}

// LoadFrom is a compatibility wrapper around LoadFromArgs for call-sites
// that don't need to pass args explicitly (useful in some tests).
func LoadFrom(fs *flag.FlagSet, getenv func(string) string) *EngineConfig {
	return LoadFromArgs(fs, getenv, nil)
}

// Load is the production entry point. It wires the loader to the process
// flag set (flag.CommandLine), reads environment variables via os.Getenv,
// and parses os.Args[1:] as the CLI arguments.
func Load() *EngineConfig {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
