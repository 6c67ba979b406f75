package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"anyback-go/internal/anyback"
	"anyback-go/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Space = config.SpaceConfig{Type: "memory"}
	cfg.Vaults = []config.VaultConfig{{Type: "memory", Name: "mem"}}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string, opts Options) *AnybackApp {
	t.Helper()
	a, err := NewAnybackApp(context.Background(), cfg, operation, opts)
	if err != nil {
		t.Fatalf("NewAnybackApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAnybackApp_BackupRestoreRecordsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, "backup", Options{Version: "test"})

	src, err := a.CreateSpace(ctx, "Source")
	if err != nil {
		t.Fatalf("CreateSpace() error = %v", err)
	}
	seeded, err := a.SeedSpace(ctx, "Source", "tiny", 7)
	if err != nil {
		t.Fatalf("SeedSpace() error = %v", err)
	}
	if len(seeded.Created) == 0 {
		t.Fatal("SeedSpace() created nothing")
	}

	dest := filepath.Join(t.TempDir(), "src.zip")
	res, err := a.Backup(ctx, anyback.BackupRequest{Space: src.ID, Select: anyback.SelectRequest{IncludeArchived: true}, Target: anyback.TargetRequest{Dest: dest}})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if res.Captured != len(seeded.Created) {
		t.Errorf("Captured = %d, want %d", res.Captured, len(seeded.Created))
	}

	dst, err := a.CreateSpace(ctx, "Copy")
	if err != nil {
		t.Fatal(err)
	}
	rr, err := a.Restore(ctx, anyback.RestoreRequest{Archive: dest, Space: dst.ID})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if ok, _, _ := rr.Counts(); ok != len(seeded.Created) {
		t.Errorf("restored %d, want %d", ok, len(seeded.Created))
	}

	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "backup" || ops[0].Status != anyback.StatusRunning {
		t.Fatalf("GetHistory() = %+v, want one running backup", ops)
	}
	if a.op.Summary == "" || a.op.Status != anyback.StatusSuccess {
		t.Errorf("operation = %+v", a.op)
	}
}

func TestAnybackApp_RestoreWithoutSuccessFails(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "restore", Options{})

	sp, err := a.CreateSpace(ctx, "Work")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.SeedSpace(ctx, sp.ID, "tiny", 1); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "work.zip")
	if _, err := a.Backup(ctx, anyback.BackupRequest{Space: sp.ID, Select: anyback.SelectRequest{IncludeArchived: true}, Target: anyback.TargetRequest{Dest: dest}}); err != nil {
		t.Fatal(err)
	}

	res, err := a.Restore(ctx, anyback.RestoreRequest{Archive: dest, Space: sp.ID})
	if err == nil || res == nil {
		t.Fatalf("Restore() into the source = %v, %v; want a report and an error", res, err)
	}
	if a.op.Status != anyback.StatusError {
		t.Errorf("Status = %q, want error", a.op.Status)
	}
}

func TestAnybackApp_BackupUsesConfigDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Backup.Dir = t.TempDir()
	cfg.Backup.Prefix = "nightly"
	a := newTestApp(t, cfg, "backup", Options{})

	sp, err := a.CreateSpace(ctx, "Work")
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Backup(ctx, anyback.BackupRequest{Space: sp.ID})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if filepath.Dir(res.Path) != cfg.Backup.Dir || filepath.Base(res.Path)[:8] != "nightly_" {
		t.Errorf("Path = %s, want nightly_* under %s", res.Path, cfg.Backup.Dir)
	}
}

func TestAnybackApp_PublishFetch(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "publish", Options{WithVault: true})
	if a.VaultName() != "mem" {
		t.Fatalf("VaultName() = %q, want mem", a.VaultName())
	}
	if err := a.ValidateVault(ctx); err != nil {
		t.Fatalf("ValidateVault() error = %v", err)
	}

	sp, err := a.CreateSpace(ctx, "Work")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.SeedSpace(ctx, sp.ID, "tiny", 3); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "work.zip")
	if _, err := a.Backup(ctx, anyback.BackupRequest{Space: sp.ID, Target: anyback.TargetRequest{Dest: archivePath}}); err != nil {
		t.Fatal(err)
	}

	pub, err := a.Publish(ctx, archivePath)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if pub.Encrypted || len(pub.Keys) != 2 {
		t.Errorf("Publish() = %+v", pub)
	}
	objs, err := a.ListPublished(ctx)
	if err != nil || len(objs) != 2 {
		t.Fatalf("ListPublished() = %v, %v", objs, err)
	}

	out := filepath.Join(dir, "fetched.zip")
	if err := a.Fetch(ctx, "work.zip", out, nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("fetched archive missing: %v", err)
	}
}

func TestAnybackApp_PublishNeedsKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Type = "age"
	a := newTestApp(t, cfg, "publish", Options{WithVault: true})

	if _, err := a.Publish(context.Background(), filepath.Join(t.TempDir(), "x.zip")); err == nil {
		t.Error("Publish() without keys succeeded")
	}
}

func TestNewAnybackApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		opts   Options
	}{
		{"unknown database", func(c *config.Config) { c.Database.Type = "postgres" }, Options{}},
		{"unknown space", func(c *config.Config) { c.Space.Type = "remote" }, Options{}},
		{"unknown vault", func(c *config.Config) {}, Options{WithVault: true, Vault: "nope"}},
		{"bad vault type", func(c *config.Config) { c.Vaults[0].Type = "ftp" }, Options{WithVault: true}},
		{"bad limits", func(c *config.Config) { c.Import.MaxBatchBytes = 1 }, Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			a, err := NewAnybackApp(context.Background(), cfg, "test", tt.opts)
			if err == nil {
				a.Close()
				t.Fatal("NewAnybackApp() succeeded, want error")
			}
		})
	}
}

func TestSetupEncryption(t *testing.T) {
	cfg := testConfig(t)
	if ok, err := SetupEncryption(cfg, "pw"); ok || err != nil {
		t.Errorf("SetupEncryption(none) = %v, %v; want no-op", ok, err)
	}

	cfg.Encryption.Type = "age"
	ok, err := SetupEncryption(cfg, "pw")
	if !ok || err != nil {
		t.Fatalf("SetupEncryption(age) = %v, %v", ok, err)
	}
	if _, err := os.Stat(cfg.Encryption.PublicKeyPath); err != nil {
		t.Errorf("public key not written: %v", err)
	}
	if _, err := SetupEncryption(cfg, "pw"); err == nil {
		t.Error("second SetupEncryption() succeeded, want refusal")
	}
}
