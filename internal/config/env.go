package config

import (
	"os"
	"slices"
	"strings"
)

// SkipTestsVar is exported to subprocesses when tests are skipped.
const SkipTestsVar = "PHOVEA_SKIP_TESTS"

// Environment is an immutable snapshot of process environment variables.
// The process environment itself is never modified.
type Environment struct {
	vars []string
}

// CaptureEnvironment snapshots os.Environ.
func CaptureEnvironment() Environment {
	return NewEnvironment(os.Environ())
}

// NewEnvironment builds a snapshot from KEY=value pairs.
func NewEnvironment(vars []string) Environment {
	return Environment{vars: slices.Clone(vars)}
}

// Lookup returns the value of key.
func (e Environment) Lookup(key string) (string, bool) {
	prefix := key + "="
	for i := len(e.vars) - 1; i >= 0; i-- {
		if strings.HasPrefix(e.vars[i], prefix) {
			return e.vars[i][len(prefix):], true
		}
	}
	return "", false
}

// With returns a copy of e with key set to value.
func (e Environment) With(key, value string) Environment {
	prefix := key + "="
	vars := make([]string, 0, len(e.vars)+1)
	for _, kv := range e.vars {
		if !strings.HasPrefix(kv, prefix) {
			vars = append(vars, kv)
		}
	}
	return Environment{vars: append(vars, prefix+value)}
}

// Vars returns the KEY=value pairs of the snapshot.
func (e Environment) Vars() []string {
	return slices.Clone(e.vars)
}

// Matching returns the KEY=value pairs whose key equals one of names,
// compared case-insensitively, in snapshot order.
func (e Environment) Matching(names ...string) []string {
	var out []string
	for _, kv := range e.vars {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, name := range names {
			if strings.EqualFold(key, name) {
				out = append(out, kv)
				break
			}
		}
	}
	return out
}

// ForRun returns the environment handed to subprocesses for opts.
func (e Environment) ForRun(opts Options) Environment {
	if opts.SkipTests {
		return e.With(SkipTestsVar, "true")
	}
	return e
}
