package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Generated agent code is demarcated by slug-keyed boundary markers so
// later tooling can locate and replace exactly that block.
const (
	beginMarkerFmt = "// === WARP_ENGINE_AGENT_BEGIN: %s ==="
	endMarkerFmt   = "// === WARP_ENGINE_AGENT_END: %s ==="
)

// Markers returns the begin and end boundary markers for slug.
func Markers(slug string) (begin, end string) {
	return fmt.Sprintf(beginMarkerFmt, slug), fmt.Sprintf(endMarkerFmt, slug)
}

// WrapBlock surrounds content with the boundary markers for slug.
func WrapBlock(slug, content string) string {
	begin, end := Markers(slug)
	return begin + "\n" + strings.TrimRight(content, "\n") + "\n" + end + "\n"
}

func blockPattern(slug string) *regexp.Regexp {
	begin, end := Markers(slug)
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(begin) + `\n?.*?` + regexp.QuoteMeta(end) + `\n?`)
}

// ExtractBlock returns the content between the markers for slug,
// without the markers themselves. ok is false when no block exists.
func ExtractBlock(text, slug string) (content string, ok bool) {
	begin, end := Markers(slug)
	i := strings.Index(text, begin)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(begin):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.Trim(rest[:j], "\n"), true
}

// ReplaceBlock swaps the existing block for slug with content,
// preserving everything around it. replaced is false when text holds no
// block for slug.
func ReplaceBlock(text, slug, content string) (out string, replaced bool) {
	re := blockPattern(slug)
	if !re.MatchString(text) {
		return text, false
	}
	return re.ReplaceAllString(text, WrapBlock(slug, content)), true
}

// InjectFile writes the marked block for slug into the file at path.
// A missing file is created holding only the block; an existing block
// for the same slug is replaced in place; otherwise the block is
// appended. The write is atomic via a rename.
func InjectFile(path, slug, content string) error {
	block := WrapBlock(slug, content)

	existing, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return writeFileAtomic(path, block)
	case err != nil:
		return fmt.Errorf("inject %s: %w", path, err)
	}

	text := string(existing)
	if out, replaced := ReplaceBlock(text, slug, content); replaced {
		return writeFileAtomic(path, out)
	}
	if !strings.HasSuffix(text, "\n") && text != "" {
		text += "\n"
	}
	return writeFileAtomic(path, text+"\n"+block)
}

func writeFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
