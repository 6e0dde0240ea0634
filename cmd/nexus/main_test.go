package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadBankDefault(t *testing.T) {
	bank, err := loadBank("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bank.Rules) == 0 {
		t.Fatal("expected built-in rules")
	}
}

func TestLoadBankMissingFile(t *testing.T) {
	_, err := loadBank(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "guard bank") {
		t.Fatalf("expected guard bank error, got %v", err)
	}
}

func TestRunAdminUnknownCommand(t *testing.T) {
	if err := runAdmin([]string{"rotate-everything"}); err == nil {
		t.Fatal("expected error for unknown admin command")
	}
	if err := runAdmin(nil); err != nil {
		t.Fatalf("help should not fail: %v", err)
	}
}

func TestRunAdminPurgeRequiresUser(t *testing.T) {
	err := runAdmin([]string{"purge-conversations"})
	if err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected --user error, got %v", err)
	}
}

func TestRunMigrateUnknownCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "absent.yaml")
	err := runMigrate([]string{"--config", cfgPath, "sideways"})
	if err == nil || !strings.Contains(err.Error(), "unknown migrate command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}
