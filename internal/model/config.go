package model

import "time"

// Config holds all runtime settings; it is built once and passed by value
// into component constructors
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Extraction   ExtractionConfig   `yaml:"extraction" mapstructure:"extraction"`
	Priority     PriorityConfig     `yaml:"priority" mapstructure:"priority"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle" mapstructure:"lifecycle"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	PersonasFile string             `yaml:"personas_file,omitempty" mapstructure:"personas_file"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite or memory
	Path   string `yaml:"path" mapstructure:"path"`     // SQLite database file
}

// ExtractionConfig tunes the entity extractor
type ExtractionConfig struct {
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxEntities   int     `yaml:"max_entities" mapstructure:"max_entities"`
}

// PriorityConfig holds the priority calculator constants
type PriorityConfig struct {
	Base         int             `yaml:"base" mapstructure:"base"`
	UrgencyBoost map[Urgency]int `yaml:"urgency_boost" mapstructure:"urgency_boost"`
}

// LifecycleConfig holds decay and completeness settings
type LifecycleConfig struct {
	DefaultHalfLifeDays float64                `yaml:"default_half_life_days" mapstructure:"default_half_life_days"`
	HalfLifeDays        map[EntityType]float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	StaleThreshold      float64                `yaml:"stale_threshold" mapstructure:"stale_threshold"`
	CriticalThreshold   float64                `yaml:"critical_threshold" mapstructure:"critical_threshold"`
	IncompleteThreshold int                    `yaml:"incomplete_threshold" mapstructure:"incomplete_threshold"`
	NeutralQuality      float64                `yaml:"neutral_quality" mapstructure:"neutral_quality"`
	PageSize            int                    `yaml:"page_size" mapstructure:"page_size"`
}

// SchedulerConfig controls the batch tick driver
type SchedulerConfig struct {
	SignalInterval time.Duration `yaml:"signal_interval" mapstructure:"signal_interval"`
	DecayInterval  time.Duration `yaml:"decay_interval" mapstructure:"decay_interval"`
	SignalLimit    int           `yaml:"signal_limit" mapstructure:"signal_limit"`
	DecayLimit     int           `yaml:"decay_limit" mapstructure:"decay_limit"`
}

// ConcurrencyConfig bounds parallelism inside a tick
type ConcurrencyConfig struct {
	SignalWorkers int `yaml:"signal_workers" mapstructure:"signal_workers"`
	EntityWorkers int `yaml:"entity_workers" mapstructure:"entity_workers"`
}

// RateLimitingConfig paces task enqueues per trigger source
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "signalqueue.db",
		},
		Extraction: ExtractionConfig{
			MinConfidence: 0.5,
			MaxEntities:   8,
		},
		Priority: PriorityConfig{
			Base: 30,
			UrgencyBoost: map[Urgency]int{
				UrgencyCritical: 40,
				UrgencyHigh:     25,
				UrgencyMedium:   10,
				UrgencyLow:      0,
			},
		},
		Lifecycle: LifecycleConfig{
			DefaultHalfLifeDays: 30,
			HalfLifeDays: map[EntityType]float64{
				EntityCompany: 30,
				EntityPerson:  60,
				EntityTopic:   14,
				EntityProduct: 45,
				EntityEvent:   7,
			},
			StaleThreshold:      0.5,
			CriticalThreshold:   0.25,
			IncompleteThreshold: 60,
			NeutralQuality:      0.5,
			PageSize:            200,
		},
		Scheduler: SchedulerConfig{
			SignalInterval: time.Minute,
			DecayInterval:  time.Hour,
			SignalLimit:    50,
			DecayLimit:     100,
		},
		Concurrency: ConcurrencyConfig{
			SignalWorkers: 4,
			EntityWorkers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 20,
			BurstSize:         10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
