package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Matcher selects artifact files by extension and an optional filename
// substring. Both checks are case-insensitive.
type Matcher struct {
	Pattern    string
	Extensions []string
}

// Match reports whether a bare filename is an artifact candidate.
func (m Matcher) Match(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	found := false
	for _, allowed := range m.Extensions {
		if strings.ToLower(strings.TrimPrefix(allowed, ".")) == ext {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if m.Pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(m.Pattern))
}

// Snapshot is the baseline half of the two-phase artifact discovery protocol.
// The queue has no fetch API, so new outputs are found by diffing the shared
// directory against a baseline taken before submission.
type Snapshot struct {
	dir      string
	matcher  Matcher
	baseline map[string]struct{}
}

// Take records the set of matching files currently in dir. It must be called
// before the job is submitted; files racing with a late snapshot would be
// invisible to Diff.
func Take(dir string, matcher Matcher) (*Snapshot, error) {
	names, err := matchingFiles(dir, matcher)
	if err != nil {
		return nil, err
	}
	baseline := make(map[string]struct{}, len(names))
	for _, name := range names {
		baseline[name] = struct{}{}
	}
	return &Snapshot{dir: dir, matcher: matcher, baseline: baseline}, nil
}

// Dir returns the watched directory.
func (s *Snapshot) Dir() string { return s.dir }

// Diff returns absolute paths of matching files that were not present at
// baseline. Files already present never reappear, even if modified since.
func (s *Snapshot) Diff() ([]string, error) {
	names, err := matchingFiles(s.dir, s.matcher)
	if err != nil {
		return nil, err
	}
	var fresh []string
	for _, name := range names {
		if _, ok := s.baseline[name]; ok {
			continue
		}
		fresh = append(fresh, filepath.Join(s.dir, name))
	}
	sort.Strings(fresh)
	return fresh, nil
}

// Await polls Diff at the given interval until something new appears or the
// timeout elapses. The first non-empty diff wins; an empty slice means the
// budget ran out. Cancellation unblocks within one interval.
func (s *Snapshot) Await(ctx context.Context, timeout, interval time.Duration) []string {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		fresh, err := s.Diff()
		if err == nil && len(fresh) > 0 {
			return fresh
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func matchingFiles(dir string, matcher Matcher) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matcher.Match(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
