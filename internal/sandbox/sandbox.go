// Package sandbox confines agent entry binaries on Linux hosts.
package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapCommand returns an *exec.Cmd that runs binary with args. If home
// is non-empty and bubblewrap (bwrap) is available on Linux, the
// command runs inside a minimal bubblewrap sandbox. If agentDir is
// non-empty and under home, only agentDir is writable and home is
// read-only, so protected/ under home cannot be written. Otherwise the
// whole home is writable.
func WrapCommand(ctx context.Context, home, agentDir, binary string, args []string) *exec.Cmd {
	if home == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	var bwrapArgs []string
	if agentDir != "" {
		absAgent, _ := filepath.Abs(agentDir)
		if absAgent != "" && (absAgent == absHome || (len(absAgent) > len(absHome) && absAgent[len(absHome)] == filepath.Separator)) {
			bwrapArgs = []string{
				"--ro-bind", absHome, absHome,
				"--bind", absAgent, absAgent,
				"--ro-bind", "/usr", "/usr",
				"--ro-bind", "/lib", "/lib",
				"--ro-bind", "/lib64", "/lib64",
				"--dev", "/dev",
				"--proc", "/proc",
				"--tmpfs", "/tmp",
				"--unshare-pid",
			}
		}
	}
	if bwrapArgs == nil {
		bwrapArgs = []string{
			"--bind", absHome, absHome,
			"--ro-bind", "/usr", "/usr",
			"--ro-bind", "/lib", "/lib",
			"--ro-bind", "/lib64", "/lib64",
			"--dev", "/dev",
			"--proc", "/proc",
			"--tmpfs", "/tmp",
			"--unshare-pid",
		}
	}
	bwrapArgs = append(bwrapArgs, "--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}
