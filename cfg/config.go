// Package cfg defines the kernel's runtime configuration: every tunable
// constant named in spec.md §3-§4, bound to command-line flags and an
// optional config file via viper/pflag, the same layering the teacher
// repo uses for its own Config (cfg/config.go, cfg/defaults.go,
// cfg/validate.go).
package cfg

import "time"

// Config is the kernel's full runtime configuration, nested by
// subsystem the same way the teacher's Config groups FileSystemConfig,
// DebugConfig, etc.
type Config struct {
	BlockCache BlockCacheConfig `yaml:"block-cache"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Memory     MemoryConfig     `yaml:"memory"`
	Disk       DiskConfig       `yaml:"disk"`
	Process    ProcessConfig    `yaml:"process"`
	Debug      DebugConfig      `yaml:"debug"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BlockCacheConfig mirrors spec.md §4.2's fixed constants, made
// operator-tunable the way the teacher exposes metadata-cache sizing.
type BlockCacheConfig struct {
	// BlockSizeBytes is the fixed size of one cached disk block.
	BlockSizeBytes int `yaml:"block-size-bytes"`
	// LogMaxSize bounds how many data blocks the write-ahead log may
	// hold before a commit is forced.
	LogMaxSize int `yaml:"log-max-size"`
	// OpMaxNumBlocks is the most blocks one grouped atomic operation may
	// dirty; must not exceed LogMaxSize.
	OpMaxNumBlocks int `yaml:"op-max-num-blocks"`
	// CapacityBlocks is the cache's eviction threshold in blocks.
	CapacityBlocks int `yaml:"capacity-blocks"`
	// MaxConcurrentOps bounds how many grouped operations BeginOp admits
	// at once (the log's admission semaphore).
	MaxConcurrentOps int `yaml:"max-concurrent-ops"`
}

// SchedulerConfig tunes the hierarchical CFS-style scheduler (spec.md
// §4.5).
type SchedulerConfig struct {
	// TimerSlice is the per-CPU preemption timer period.
	TimerSlice time.Duration `yaml:"timer-slice"`
	// NumCPUs is the number of simulated per-CPU idle tasks.
	NumCPUs int `yaml:"num-cpus"`
}

// MemoryConfig tunes the page allocator and slab caches (spec.md C2).
type MemoryConfig struct {
	// MaxPages bounds how many physical pages the page pool may hand out
	// at once.
	MaxPages int64 `yaml:"max-pages"`
	// SwapSlots is the number of page-sized slots reserved in the disk's
	// swap region (spec.md §4.4, §6 "Swap").
	SwapSlots uint64 `yaml:"swap-slots"`
}

// ProcessConfig tunes the process table and container pid namespaces
// (spec.md C7).
type ProcessConfig struct {
	// TableCapacity bounds how many processes may exist system-wide at
	// once (spec.md §4.6 "pops a free slot from the global procs pool").
	TableCapacity int `yaml:"table-capacity"`
}

// DiskConfig tunes the simulated block device (spec.md §6).
type DiskConfig struct {
	// NumSectors is the size of the simulated device, in sectors.
	NumSectors uint64 `yaml:"num-sectors"`
	// RateLimitSectorsPerSec throttles device throughput to model a real
	// SD card; zero means unlimited.
	RateLimitSectorsPerSec float64 `yaml:"rate-limit-sectors-per-sec"`
	// FilePath, if set, backs the device with a host file instead of
	// memory so state survives process restart.
	FilePath string `yaml:"file-path"`
}

// DebugConfig mirrors the teacher's DebugConfig: operator knobs that
// change failure behavior rather than functionality.
type DebugConfig struct {
	// ExitOnInvariantViolation defaults to true. No code reads it:
	// invariant-violation panics behave the same whatever its value.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
}

// LoggingConfig mirrors the teacher's logging flags.
type LoggingConfig struct {
	Format     string `yaml:"format"` // "text" or "json"
	Severity   string `yaml:"severity"`
	FilePath   string `yaml:"file-path"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
}
