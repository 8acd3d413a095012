package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ArenaConfig holds the address-space ceiling and initial commit limit
// for the arena gateway.
type ArenaConfig struct {
	AddressSpace int64 `yaml:"address_space"` // bytes, the hard ceiling (default: 512MB)
	CommitLimit  int64 `yaml:"commit_limit"`  // bytes, initial commit limit (default: 64MB)
	SpareCommit  int64 `yaml:"spare_commit"`  // bytes kept uncommitted as slack (default: 1MB)
}

// PoolConfig holds segregated-allocation-cache and segment sizing for the
// pool registry.
type PoolConfig struct {
	SegmentSize      int64 `yaml:"segment_size"`       // bytes requested per arena segment (default: 1MB)
	SACClasses       int   `yaml:"sac_classes"`        // number of SAC size classes per pool (max 32)
	SACCachedCount   int   `yaml:"sac_cached_count"`    // blocks cached per size class before overflow to the pool
	FixedPoolBootstrap bool `yaml:"fixed_pool_bootstrap"` // create the 27 fixed pool types at startup
}

// ReserveConfig holds reserve-ladder sizing.
type ReserveConfig struct {
	Levels        []int64       `yaml:"levels"`          // bytes held at each reserve level, smallest first
	RegainRetries int           `yaml:"regain_retries"`  // CAS retry bound for RegainReservesForAlloc
	PollInterval  time.Duration `yaml:"poll_interval"`   // diagnostic poll interval for reserve drift checks
}

// ExtensionConfig holds arena commit-extension ladder settings.
type ExtensionConfig struct {
	DeltaStep     int64 `yaml:"delta_step"`      // bytes added/removed per extension step
	MinExtension  int64 `yaml:"min_extension"`   // smallest extension granted
	MaxExtension  int64 `yaml:"max_extension"`   // largest extension granted before falling to the next tier
}

// SaveLevelConfig holds PS VM save/restore level limits.
type SaveLevelConfig struct {
	MaxSaveLevels       int `yaml:"max_save_levels"`        // default: 31
	MaxGlobalSaveLevel  int `yaml:"max_global_save_level"`  // default: 1
	SaveLevelIncrement  int `yaml:"save_level_increment"`   // default: 2
}

// GCConfig holds PS VM garbage-collection tuning.
type GCConfig struct {
	Hysteresis      int64 `yaml:"hysteresis"`        // bytes allocated since last GC above which the PS VM raises its gc alert (default: 100000)
	EnableTrashVM   bool  `yaml:"enable_trash_vm"`   // allow the trash-VM tier handler
	EnableDiskTier  bool  `yaml:"enable_disk_tier"`  // allow the disk tier handler
}

// PSCalcConfig holds PS-calculator compiler/VM limits.
type PSCalcConfig struct {
	MaxObjects int `yaml:"max_objects"` // default: 1000
	MaxStack   int `yaml:"max_stack"`   // default: 100
	StackGuard int `yaml:"stack_guard"` // overflow-detection cells beyond MaxStack (default: 10)
}

// CallCacheConfig holds call-output cache sizing and optional remote mirror.
type CallCacheConfig struct {
	SamplesPerUnit int          `yaml:"samples_per_unit"` // samples per unit range (default: 256)
	Epsilon        float64      `yaml:"epsilon"`          // snapping tolerance for identity fast path
	Redis          RedisConfig  `yaml:"redis"`
}

// RedisConfig holds the optional call-cache mirror tier connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled       bool      `yaml:"enabled"`
	Namespace     string    `yaml:"namespace"`
	GCMsBuckets   []float64 `yaml:"gc_ms_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DaemonConfig holds daemon-specific settings for cmd/ripmm serve.
type DaemonConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Arena     ArenaConfig     `yaml:"arena"`
	Pool      PoolConfig      `yaml:"pool"`
	Reserve   ReserveConfig   `yaml:"reserve"`
	Extension ExtensionConfig `yaml:"extension"`
	SaveLevel SaveLevelConfig `yaml:"save_level"`
	GC        GCConfig        `yaml:"gc"`
	PSCalc    PSCalcConfig    `yaml:"pscalc"`
	CallCache CallCacheConfig `yaml:"call_cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Arena: ArenaConfig{
			AddressSpace: 512 << 20,
			CommitLimit:  64 << 20,
			SpareCommit:  1 << 20,
		},
		Pool: PoolConfig{
			SegmentSize:        1 << 20,
			SACClasses:         32,
			SACCachedCount:     8,
			FixedPoolBootstrap: true,
		},
		Reserve: ReserveConfig{
			Levels:        []int64{256 << 10, 512 << 10, 1 << 20, 2 << 20},
			RegainRetries: 1,
			PollInterval:  5 * time.Second,
		},
		Extension: ExtensionConfig{
			DeltaStep:    64 << 10,
			MinExtension: 64 << 10,
			MaxExtension: 16 << 20,
		},
		SaveLevel: SaveLevelConfig{
			MaxSaveLevels:      31,
			MaxGlobalSaveLevel: 1,
			SaveLevelIncrement: 2,
		},
		GC: GCConfig{
			Hysteresis:     100000,
			EnableTrashVM:  true,
			EnableDiskTier: false,
		},
		PSCalc: PSCalcConfig{
			MaxObjects: 1000,
			MaxStack:   100,
			StackGuard: 10,
		},
		CallCache: CallCacheConfig{
			SamplesPerUnit: 256,
			Epsilon:        1e-6,
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "localhost:6379",
				DB:      0,
			},
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			Namespace:   "mm",
			GCMsBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":9191",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying it onto
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MM_DAEMON_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("MM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("MM_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MM_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("MM_ARENA_ADDRESS_SPACE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Arena.AddressSpace = n
		}
	}
	if v := os.Getenv("MM_ARENA_COMMIT_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Arena.CommitLimit = n
		}
	}

	if v := os.Getenv("MM_POOL_SEGMENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.SegmentSize = n
		}
	}
	if v := os.Getenv("MM_POOL_SAC_CLASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.SACClasses = n
		}
	}

	if v := os.Getenv("MM_RESERVE_REGAIN_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reserve.RegainRetries = n
		}
	}
	if v := os.Getenv("MM_RESERVE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reserve.PollInterval = d
		}
	}

	if v := os.Getenv("MM_EXTENSION_DELTA_STEP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Extension.DeltaStep = n
		}
	}

	if v := os.Getenv("MM_SAVE_LEVEL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SaveLevel.MaxSaveLevels = n
		}
	}
	if v := os.Getenv("MM_SAVE_LEVEL_MAX_GLOBAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SaveLevel.MaxGlobalSaveLevel = n
		}
	}

	if v := os.Getenv("MM_GC_HYSTERESIS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.GC.Hysteresis = n
		}
	}
	if v := os.Getenv("MM_GC_ENABLE_TRASH_VM"); v != "" {
		cfg.GC.EnableTrashVM = parseBool(v)
	}
	if v := os.Getenv("MM_GC_ENABLE_DISK_TIER"); v != "" {
		cfg.GC.EnableDiskTier = parseBool(v)
	}

	if v := os.Getenv("MM_PSCALC_MAX_OBJECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PSCalc.MaxObjects = n
		}
	}
	if v := os.Getenv("MM_PSCALC_MAX_STACK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PSCalc.MaxStack = n
		}
	}

	if v := os.Getenv("MM_CALLCACHE_SAMPLES_PER_UNIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CallCache.SamplesPerUnit = n
		}
	}
	if v := os.Getenv("MM_CALLCACHE_REDIS_ENABLED"); v != "" {
		cfg.CallCache.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("MM_CALLCACHE_REDIS_ADDR"); v != "" {
		cfg.CallCache.Redis.Addr = v
		cfg.CallCache.Redis.Enabled = true
	}
	if v := os.Getenv("MM_CALLCACHE_REDIS_PASSWORD"); v != "" {
		cfg.CallCache.Redis.Password = v
	}
	if v := os.Getenv("MM_CALLCACHE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CallCache.Redis.DB = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
