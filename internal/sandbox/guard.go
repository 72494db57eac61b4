package sandbox

import (
	"path/filepath"
	"strings"
)

// WriteGuard enforces write-path isolation for generated agent code.
// The builder checks every file it is about to write with
// AllowWrite(path): writes must land under the agent's own directory,
// or under bin/ for entry shims. The protected/ directory holding the
// database and daemon state is never writable through the guard.
type WriteGuard struct {
	Home string // engine home, e.g. ~/.warpengine
	Slug string // agent slug; its dir is Home/agents/<slug>
}

// AllowWrite returns true if the guard allows writing to the given
// path. Paths are normalized (cleaned and absolutized when possible).
func (g *WriteGuard) AllowWrite(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	abs, err := filepath.Abs(clean)
	if err != nil {
		abs = clean
	}
	home := g.normalizeDir(g.Home)
	if home == "" || (abs != home && !strings.HasPrefix(abs, home+string(filepath.Separator))) {
		return false
	}
	protected := filepath.Join(home, "protected")
	if abs == protected || strings.HasPrefix(abs, protected+string(filepath.Separator)) {
		return false
	}
	if g.Slug != "" {
		agentDir := filepath.Join(home, "agents", g.Slug)
		if abs == agentDir || strings.HasPrefix(abs, agentDir+string(filepath.Separator)) {
			return true
		}
	}
	binDir := filepath.Join(home, "bin")
	if abs == binDir || strings.HasPrefix(abs, binDir+string(filepath.Separator)) {
		return true
	}
	return false
}

func (g *WriteGuard) normalizeDir(dir string) string {
	if dir == "" {
		return ""
	}
	clean := filepath.Clean(dir)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return clean
	}
	return abs
}
