package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "syncq.log")
	sink, err := NewSink(Options{File: path, MaxSizeMB: 1, MaxBackups: 1, Quiet: true})
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}

	sink.Logger("syncer").Printf("drive complete: %d synced", 3)
	sink.Logger("daemon").Println("stopped")
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	out := string(data)
	for _, want := range []string{"[syncer] ", "drive complete: 3 synced", "[daemon] stopped"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestSink_Rotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncq.log")
	sink, err := NewSink(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	sink.Logger("x").Println("before")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	sink.Logger("x").Println("after")

	entries, _ := os.ReadDir(dir)
	if len(entries) < 2 {
		t.Errorf("expected a backup file after rotation, got %d entries", len(entries))
	}
}

func TestSink_StderrOnly(t *testing.T) {
	sink, err := NewSink(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sink.Writer() != os.Stderr {
		t.Error("expected stderr writer")
	}
	if err := sink.Rotate(); err != nil {
		t.Error(err)
	}
	if err := sink.Close(); err != nil {
		t.Error(err)
	}
}
