package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"anyback-go/internal/anyback"
	"anyback-go/internal/config"
	"anyback-go/internal/database"
	"anyback-go/internal/encryption"
	"anyback-go/internal/generator"
	"anyback-go/internal/space"
	"anyback-go/internal/vault"
)

// Options tune NewAnybackApp for one CLI invocation.
type Options struct {
	// Version is recorded in manifests.
	Version string
	// Vault names the configured vault to use. Empty picks the first one.
	Vault string
	// WithVault builds the vault and encryptor. Only publish, fetch and
	// vaults need them.
	WithVault bool
	// Verbose copies info logs to stderr. Otherwise stderr only gets
	// warnings and errors.
	Verbose bool
}

// AnybackApp is the application layer between the CLI and anyback.Service.
// It constructs all dependencies from config, records runs in the job
// history, and manages the DB lifecycle on Close.
type AnybackApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	store     space.Store
	vault     anyback.Vault
	encryptor anyback.Encryptor
	service   *anyback.Service
	clock     anyback.Clock
	op        *Operation
	logFile   *os.File
}

// NewAnybackApp creates a fully wired AnybackApp from the given config.
// operation identifies the CLI command being run (e.g. "backup", "restore").
// The caller must call Close when done.
func NewAnybackApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*AnybackApp, error) {
	limits, err := config.ResolveImportLimits(cfg, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("resolving import limits: %w", err)
	}

	var (
		v   anyback.Vault
		enc anyback.Encryptor
	)
	if opts.WithVault {
		vcfg, err := cfg.Vault(opts.Vault)
		if err != nil {
			return nil, fmt.Errorf("selecting vault: %w", err)
		}
		if v, err = vault.NewVaultFromConfig(ctx, vcfg); err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		if enc, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	clock := anyback.RealClock{}
	idgen := anyback.UUIDGenerator{}
	store, err := space.NewStoreFromConfig(cfg.Space, db.DB(), clock, idgen)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating space store: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelInfo
	}
	logger, logFile, err := newLogger(cfg.LogDir, opID, stderrLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := anyback.NewService(store, db, v, enc, &slogAdapter{l: logger}, clock, idgen, anyback.Settings{
		Version:        opts.Version,
		Workers:        cfg.Backup.Workers,
		Limits:         limits,
		SnapshotImport: cfg.Import.SnapshotTransportEnabled(),
	})

	return &AnybackApp{
		cfg:       cfg,
		db:        db,
		store:     store,
		vault:     v,
		encryptor: enc,
		service:   svc,
		clock:     clock,
		op:        NewOperation(operation, idgen.New()),
		logFile:   logFile,
	}, nil
}

// track persists the operation, runs fn and keeps its summary. Only
// backup, restore and publish are tracked.
func (a *AnybackApp) track(params map[string]any, fn func() (string, error)) error {
	if !a.op.Persisted() {
		a.op.Parameters = encodeParameters(params)
		rec, err := a.db.CreateOperation(a.op.RunID, a.op.Name, a.op.Parameters, a.clock.Now())
		if err != nil {
			return fmt.Errorf("recording operation: %w", err)
		}
		a.op.ID = rec.ID
	}
	summary, err := fn()
	a.op.Summary = summary
	if err != nil {
		a.op.Fail(err)
	}
	return err
}

// Service returns the wired service.
func (a *AnybackApp) Service() *anyback.Service { return a.service }

// Config returns the configuration the app was built from.
func (a *AnybackApp) Config() *config.Config { return a.cfg }

// Backup applies the [backup] defaults to req and runs it.
func (a *AnybackApp) Backup(ctx context.Context, req anyback.BackupRequest) (*anyback.BackupResult, error) {
	if req.Target.Dest == "" {
		if req.Target.Dir == "" {
			req.Target.Dir = a.cfg.Backup.Dir
		}
		if req.Target.Prefix == "" {
			req.Target.Prefix = a.cfg.Backup.Prefix
		}
	}

	var res *anyback.BackupResult
	params := map[string]any{
		"space":         req.Space,
		"dest":          req.Target.Dest,
		"dir":           req.Target.Dir,
		"format":        string(req.Format),
		"mode":          req.Mode,
		"include_files": req.IncludeFiles,
	}
	err := a.track(params, func() (string, error) {
		var err error
		res, err = a.service.Backup(ctx, req)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %d captured, %d failed", res.Path, res.Captured, len(res.Failures)), nil
	})
	return res, err
}

// Restore runs req. A run whose report has entries but no successes is
// recorded as failed.
func (a *AnybackApp) Restore(ctx context.Context, req anyback.RestoreRequest) (*anyback.RestoreResult, error) {
	var res *anyback.RestoreResult
	params := map[string]any{
		"archive":   req.Archive,
		"space":     req.Space,
		"mode":      string(req.Mode),
		"replace":   req.Replace,
		"transport": req.Transport,
		"dry_run":   req.DryRun,
	}
	err := a.track(params, func() (string, error) {
		var err error
		res, err = a.service.Restore(ctx, req)
		if res == nil {
			return "", err
		}
		ok, failed, skipped := res.Counts()
		summary := fmt.Sprintf("%d succeeded, %d failed, %d not attempted", ok, failed, skipped)
		if err == nil && res.Failed() {
			err = errors.New("no object was restored")
		}
		return summary, err
	})
	return res, err
}

// Publish copies an archive into the selected vault.
func (a *AnybackApp) Publish(ctx context.Context, path string) (*anyback.PublishResult, error) {
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("%w: encryption keys are missing; run `anyback config init`", anyback.ErrInvalid)
	}
	var res *anyback.PublishResult
	err := a.track(map[string]any{"archive": path, "vault": a.VaultName()}, func() (string, error) {
		var err error
		res, err = a.service.Publish(ctx, path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d objects, %d bytes to %s", len(res.Keys), res.Bytes, res.Vault), nil
	})
	return res, err
}

// Fetch downloads a published archive to dest.
func (a *AnybackApp) Fetch(ctx context.Context, key, dest string, passphrase func() (string, error)) error {
	return a.service.Fetch(ctx, key, dest, passphrase)
}

// ListPublished lists the selected vault.
func (a *AnybackApp) ListPublished(ctx context.Context) ([]anyback.VaultObject, error) {
	return a.service.ListPublished(ctx)
}

// ValidateVault checks that the selected vault is reachable.
func (a *AnybackApp) ValidateVault(ctx context.Context) error {
	if a.vault == nil {
		return fmt.Errorf("%w: no vault configured", anyback.ErrInvalid)
	}
	return a.vault.ValidateSetup(ctx)
}

// VaultName returns the selected vault name, or "" without a vault.
func (a *AnybackApp) VaultName() string {
	if a.vault == nil {
		return ""
	}
	return a.vault.Name()
}

// GetHistory returns the most recent operations.
func (a *AnybackApp) GetHistory(limit int) ([]*anyback.Operation, error) {
	return a.service.GetHistory(limit)
}

// ExportHistory writes a copy of the history database to dest.
func (a *AnybackApp) ExportHistory(dest string) error {
	return a.db.BackupTo(dest)
}

// CreateSpace creates an empty space in the local store.
func (a *AnybackApp) CreateSpace(ctx context.Context, name string) (anyback.Space, error) {
	return a.store.CreateSpace(ctx, name)
}

// ListSpaces lists the spaces of the local store.
func (a *AnybackApp) ListSpaces(ctx context.Context) ([]anyback.Space, error) {
	return a.store.ListSpaces(ctx)
}

// DeleteSpace removes a space and all of its objects.
func (a *AnybackApp) DeleteSpace(ctx context.Context, ref string) error {
	return a.store.DeleteSpace(ctx, ref)
}

// SeedSpace fills a space with generated objects from the named profile.
func (a *AnybackApp) SeedSpace(ctx context.Context, ref, profile string, seed uint64) (*generator.Result, error) {
	prof, err := generator.LookupProfile(profile)
	if err != nil {
		return nil, err
	}
	sp, err := a.store.ResolveSpace(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving space: %w", err)
	}
	plan, err := generator.Generate(prof, seed, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("generating objects: %w", err)
	}
	return generator.Seed(ctx, a.store, sp.ID, plan, a.clock)
}

// Close finalizes the operation and closes all resources.
func (a *AnybackApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status, a.op.Summary, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// SetupEncryption generates the configured key pair. It is a no-op when
// encryption is disabled.
func SetupEncryption(cfg *config.Config, passphrase string) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return false, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return false, nil
	}
	if err := enc.Setup(passphrase); err != nil {
		return false, fmt.Errorf("setting up encryption: %w", err)
	}
	return true, nil
}
