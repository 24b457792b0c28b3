package runstate

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuild_EmptyCompleted(t *testing.T) {
	s := Build("sha256:abc", nil, "")
	if s.CompletedIDs == nil || len(s.CompletedIDs) != 0 {
		t.Errorf("CompletedIDs = %v, want empty slice", s.CompletedIDs)
	}
	if s.UpdatedAt == "" {
		t.Error("UpdatedAt should be set")
	}
}

func TestCompleted(t *testing.T) {
	s := Build("sha256:abc", []string{"1", "2"}, "cp-1")
	if !s.Completed("1") || !s.Completed("2") {
		t.Error("completed ids should report true")
	}
	if s.Completed("3") {
		t.Error("unknown id should report false")
	}
}

func TestWriteLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "resume.json")
	s := Build("sha256:abc", []string{"1"}, "cp-2")

	if err := Write(path, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PlanHash != s.PlanHash || loaded.NextCheckpoint != "cp-2" {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.CompletedIDs) != 1 || loaded.CompletedIDs[0] != "1" {
		t.Errorf("CompletedIDs = %v", loaded.CompletedIDs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	} else if !strings.Contains(err.Error(), "no such file") {
		t.Logf("err = %v", err)
	}
}
