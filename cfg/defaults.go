package cfg

import "time"

// Default returns a Config populated with the constants spec.md §3-§4
// names directly (BlockSize=1024, OpMaxNumBlocks=10, etc.), matching
// internal/blockcache's and internal/sched's own defaults so a kerneld
// run with no flags behaves identically to the unit test suites.
func Default() *Config {
	return &Config{
		BlockCache: BlockCacheConfig{
			BlockSizeBytes:   1024,
			LogMaxSize:       30,
			OpMaxNumBlocks:   10,
			CapacityBlocks:   256,
			MaxConcurrentOps: 3,
		},
		Scheduler: SchedulerConfig{
			TimerSlice: time.Millisecond,
			NumCPUs:    4,
		},
		Memory: MemoryConfig{
			MaxPages:  4096,
			SwapSlots: 256,
		},
		Disk: DiskConfig{
			NumSectors: 1 << 20,
		},
		Process: ProcessConfig{
			TableCapacity: 64,
		},
		Debug: DebugConfig{
			ExitOnInvariantViolation: true,
		},
		Logging: LoggingConfig{
			Format:     "json",
			Severity:   "INFO",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}
