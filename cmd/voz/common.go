package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/config"
	"github.com/RichardoC/voz/internal/db"
	"github.com/RichardoC/voz/internal/store"
)

const defaultConfigPath = "voz.yaml"

// newLogger builds the process logger from the log section of the config.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// env is what every command that touches history needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	kv     db.KV
	store  *store.Store
}

func (e *env) Close() error {
	_ = e.logger.Sync()
	if e.kv == nil {
		return nil
	}
	return e.kv.Close()
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	kv, err := db.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open storage",
			zap.Error(err),
			zap.String("driver", cfg.Storage.Driver),
			zap.String("path", cfg.Storage.Path))
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		kv:     kv,
		store:  store.New(kv, logger),
	}, nil
}
