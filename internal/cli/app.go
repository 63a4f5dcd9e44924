package cli

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/signalqueue/internal/logging"
	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/pipeline"
	"github.com/ppiankov/signalqueue/internal/store"
)

// app holds the components a command needs, built from the resolved config
type app struct {
	cfg    model.Config
	logger *zap.Logger
	store  store.Store
	orch   *pipeline.Orchestrator
}

// loadConfig resolves flags, env, config file and defaults into a Config
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()

	// Register every default key so env overrides apply to keys absent from the file
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("marshal defaults: %w", err)
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return cfg, fmt.Errorf("unmarshal defaults: %w", err)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("personas_file", "")

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg model.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (want sqlite or memory)", cfg.Driver)
	}
}

func loadPersonas(path string) (model.PersonaRegistry, error) {
	if path == "" {
		return model.DefaultPersonas(), nil
	}
	return model.LoadPersonas(path)
}

// newApp builds the logger, store and orchestrator. Callers must call close.
func newApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	personas, err := loadPersonas(cfg.PersonasFile)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger.Debug("store opened",
		zap.String("driver", cfg.Store.Driver),
		zap.String("path", cfg.Store.Path),
		zap.Int("personas", len(personas.Personas)))

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		orch:   pipeline.NewOrchestrator(cfg, st, personas, logger),
	}, nil
}

func (a *app) close() error {
	// Sync on stderr returns EINVAL on some platforms
	_ = a.logger.Sync()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
