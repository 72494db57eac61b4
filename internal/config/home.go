package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the warp-engine home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the warp-engine home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("warp-engine home missing from context")
}

// ResolveHome returns the warp-engine home directory (override, WARP_ENGINE_HOME, or default ~/.warpengine).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("WARP_ENGINE_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".warpengine"), nil
}

// AgentsDir is where generated agent sources live (home/agents/<slug>/).
func AgentsDir(home string) string {
	return filepath.Join(home, "agents")
}

// BinDir is where executable entry shims are materialized (home/bin/<slug>).
func BinDir(home string) string {
	return filepath.Join(home, "bin")
}
