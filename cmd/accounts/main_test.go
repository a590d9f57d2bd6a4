package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"studylib/internal/db"
	"studylib/internal/models"
)

func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	t.Setenv("STUDYLIB_DATABASE_PATH", "")

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "data", "library.db")
	configPath = filepath.Join(dir, "config.yaml")
	body := "auth:\n  jwt_secret: test-secret-that-is-long-enough-for-hs256\ndatabase:\n  path: " + dbPath + "\n"
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return configPath, dbPath
}

func seedPending(t *testing.T, dbPath, addr string) {
	t.Helper()
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()

	repo := db.NewAccountRepository(database)
	if err := repo.Create(context.Background(), &models.Account{
		Name: "Pat", Email: addr, PasswordHash: "hash", Role: models.RoleStudent,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestRunExitCodes(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	seedPending(t, dbPath, "pat@x.io")

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "no_command", args: []string{"-config", configPath}, wantCode: 2, wantStderr: "usage:"},
		{name: "unknown_command", args: []string{"-config", configPath, "rename"}, wantCode: 2, wantStderr: "usage:"},
		{name: "missing_config", args: []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "list"}, wantCode: 1, wantStderr: "loading config"},
		{name: "verify_without_email", args: []string{"-config", configPath, "verify"}, wantCode: 1, wantStderr: "-email is required"},
		{name: "verify_unknown_account", args: []string{"-config", configPath, "verify", "-email", "nobody@x.io"}, wantCode: 1, wantStderr: "no account for nobody@x.io"},
		{name: "list", args: []string{"-config", configPath, "list"}, wantCode: 0, wantStdout: "1 account(s)"},
		{name: "prune_dry_run", args: []string{"-config", configPath, "prune", "-unverified"}, wantCode: 0, wantStdout: "1 account(s) would be deleted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(tt.args, &stdout, &stderr); got != tt.wantCode {
				t.Fatalf("run() = %d, want %d, stderr=%q", got, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Fatalf("stdout = %q, want it to contain %q", stdout.String(), tt.wantStdout)
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestRunVerifyReleasesDatabase(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	seedPending(t, dbPath, "pat@x.io")

	var stdout, stderr bytes.Buffer
	if got := run([]string{"-config", configPath, "verify", "-email", " PAT@x.io "}, &stdout, &stderr); got != 0 {
		t.Fatalf("run() = %d, want 0, stderr=%q", got, stderr.String())
	}
	if !strings.Contains(stdout.String(), "verified pat@x.io") {
		t.Fatalf("stdout = %q, want verification notice", stdout.String())
	}

	// A failing run must close the database as well.
	if got := run([]string{"-config", configPath, "verify", "-email", "nobody@x.io"}, &stdout, &stderr); got != 1 {
		t.Fatalf("run() = %d, want 1", got)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()

	account, err := db.NewAccountRepository(database).FindByEmail(context.Background(), "pat@x.io")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if !account.IsVerified {
		t.Fatal("account not verified after run")
	}
}
