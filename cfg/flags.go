package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every Config field as a flag on flagSet and binds
// it into viper, mirroring the teacher's generated BindFlags — here
// hand-written since the kernel's flag surface is small and fixed
// rather than codegen'd from a param YAML.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.Int("block-cache.block-size-bytes", 1024, "Fixed size in bytes of one cached disk block.")
	flagSet.Int("block-cache.log-max-size", 30, "Max data blocks the write-ahead log may hold before a forced commit.")
	flagSet.Int("block-cache.op-max-num-blocks", 10, "Max blocks one grouped atomic operation may dirty.")
	flagSet.Int("block-cache.capacity-blocks", 256, "Block cache eviction-threshold capacity, in blocks.")
	flagSet.Int("block-cache.max-concurrent-ops", 3, "Max grouped atomic operations admitted concurrently.")

	flagSet.Duration("scheduler.timer-slice", time.Millisecond, "Per-CPU preemption timer period.")
	flagSet.Int("scheduler.num-cpus", 4, "Number of simulated per-CPU idle tasks.")

	flagSet.Int64("memory.max-pages", 4096, "Max physical pages the page pool may hand out at once.")
	flagSet.Uint64("memory.swap-slots", 256, "Page-sized slots reserved in the disk's swap region.")

	flagSet.Uint64("disk.num-sectors", 1<<20, "Size of the simulated block device, in sectors.")
	flagSet.Float64("disk.rate-limit-sectors-per-sec", 0, "Throttle device throughput; 0 means unlimited.")
	flagSet.String("disk.file-path", "", "Back the device with a host file instead of memory.")

	flagSet.Int("process.table-capacity", 64, "Max processes that may exist system-wide at once.")

	flagSet.Bool("debug.exit-on-invariant-violation", true, "Let an invariant-violation panic crash the process.")

	flagSet.String("logging.format", "json", "Log output format: text or json.")
	flagSet.String("logging.severity", "INFO", "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	flagSet.String("logging.file-path", "", "Rotate logs through this file instead of stderr.")
	flagSet.Int("logging.max-size-mb", 100, "Max size in MB before a log file is rotated.")
	flagSet.Int("logging.max-backups", 3, "Max rotated log files retained.")

	return viper.BindPFlags(flagSet)
}

// FromViper builds a Config from whatever viper has resolved (flags,
// config file, defaults), matching the teacher's cfg.BuildConfig
// entry point.
func FromViper(v *viper.Viper) (*Config, error) {
	c := Default()
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}
	return c, nil
}
