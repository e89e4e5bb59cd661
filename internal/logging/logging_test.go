package logging

import (
	"path/filepath"
	"testing"
)

func TestNewWritesToStderrByDefault(t *testing.T) {
	log, err := New(Options{Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "not-a-level"}); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestNewWithFileCreatesLumberjackSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	log, err := New(Options{Level: "info", File: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("written to file")
}
