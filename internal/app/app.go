package app

import (
	"fmt"
	"os"
	"time"

	"wb-go/internal/config"
	"wb-go/internal/docstore"
	"wb-go/internal/secrets"
	"wb-go/internal/tabular"
	"wb-go/internal/wb"
)

// WBApp is the application layer between the CLI and the workbench service.
// It constructs all dependencies from config and manages the log file
// lifecycle on Close.
type WBApp struct {
	cfg     *config.Config
	service *wb.Service
	secrets *secrets.Store
	tabular *tabular.Cache
	logFile *os.File
}

// NewWBApp creates a fully wired WBApp from the given config.
// operation identifies the CLI command being run (e.g. "FilesAdd", "PublishDraft").
// The caller must call Close when done.
func NewWBApp(cfg *config.Config, operation string) (*WBApp, error) {
	store, err := docstore.NewDocStoreFromConfig(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}

	var locks wb.Locker = wb.NopLocker{}
	if cfg.StrictLocking {
		locks = wb.NewMutexLocker()
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, operation)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	cache := tabular.NewCache()
	svc := wb.NewService(
		cfg.BaseDir,
		limitsFromConfig(cfg.Limits),
		store,
		cache,
		locks,
		&slogAdapter{l: logger},
		wb.RealClock{},
		wb.UUIDGenerator{},
	)
	if err := svc.Init(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("initializing workbench store: %w", err)
	}

	return &WBApp{
		cfg:     cfg,
		service: svc,
		secrets: secrets.NewStore(cfg.Secrets.Path),
		tabular: cache,
		logFile: logFile,
	}, nil
}

// Service returns the wired workbench service.
func (a *WBApp) Service() *wb.Service { return a.service }

// Secrets returns the provider key store.
func (a *WBApp) Secrets() *secrets.Store { return a.secrets }

// Tabular returns the cache used for SQL queries over workbench CSV files,
// the same instance the service invalidates on file changes.
func (a *WBApp) Tabular() *tabular.Cache { return a.tabular }

// Close releases resources held by the app.
func (a *WBApp) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// limitsFromConfig applies config overrides on top of the engine defaults.
func limitsFromConfig(cfg config.LimitsConfig) wb.Limits {
	limits := wb.DefaultLimits()
	if cfg.MaxFiles > 0 {
		limits.MaxFiles = cfg.MaxFiles
	}
	if cfg.MaxFileSizeBytes > 0 {
		limits.MaxFileSize = cfg.MaxFileSizeBytes
	}
	if cfg.MaxManualCheckpoints > 0 {
		limits.MaxManualCheckpoints = cfg.MaxManualCheckpoints
	}
	if cfg.MaxAutoCheckpoints > 0 {
		limits.MaxAutoCheckpoints = cfg.MaxAutoCheckpoints
	}
	return limits
}
