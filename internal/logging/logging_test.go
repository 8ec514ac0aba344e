package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesErrorLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("not recorded")
	logger.Warn("stage failed")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	if err != nil {
		t.Fatalf("failed to read errors.log: %v", err)
	}
	if !strings.Contains(string(data), "stage failed") {
		t.Error("expected warning in errors.log")
	}
	if strings.Contains(string(data), "not recorded") {
		t.Error("expected info to be filtered from errors.log")
	}
	if _, err := os.Stat(filepath.Join(dir, "verbose.log")); !os.IsNotExist(err) {
		t.Error("expected no verbose.log unless verbose is set")
	}
}

func TestNewVerbose(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Dir: dir, Verbose: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("provider event")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "verbose.log"))
	if err != nil {
		t.Fatalf("failed to read verbose.log: %v", err)
	}
	if !strings.Contains(string(data), "provider event") {
		t.Error("expected debug entry in verbose.log")
	}
}
