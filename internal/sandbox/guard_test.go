package sandbox

import (
	"path/filepath"
	"testing"
)

func TestWriteGuard_AgentDir(t *testing.T) {
	home := t.TempDir()
	guard := &WriteGuard{Home: home, Slug: "summarizer"}

	agentDir := filepath.Join(home, "agents", "summarizer")
	if !guard.AllowWrite(filepath.Join(agentDir, "runner.go")) {
		t.Error("expected write allowed in own agent dir")
	}
	if !guard.AllowWrite(filepath.Join(home, "bin", "summarizer")) {
		t.Error("expected write allowed under bin/")
	}
	if guard.AllowWrite(filepath.Join(home, "agents", "other", "runner.go")) {
		t.Error("expected write denied in another agent's dir")
	}
	if guard.AllowWrite(filepath.Join(home, "notes.txt")) {
		t.Error("expected write denied at home root")
	}
}

func TestWriteGuard_Protected(t *testing.T) {
	home := t.TempDir()
	guard := &WriteGuard{Home: home, Slug: "summarizer"}

	if guard.AllowWrite(filepath.Join(home, "protected", "db.sqlite")) {
		t.Error("expected write denied under protected/")
	}
	if guard.AllowWrite("") {
		t.Error("expected empty path denied")
	}
	if guard.AllowWrite("/etc/passwd") {
		t.Error("expected write outside home denied")
	}
}

func TestWriteGuard_PathTraversal(t *testing.T) {
	home := t.TempDir()
	guard := &WriteGuard{Home: home, Slug: "summarizer"}

	escape := filepath.Join(home, "agents", "summarizer", "..", "..", "protected", "db.sqlite")
	if guard.AllowWrite(escape) {
		t.Error("expected traversal into protected/ denied")
	}
}
