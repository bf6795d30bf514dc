package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDiffReturnsOnlyNewFiles(t *testing.T) {
	dir := t.TempDir()
	baseline := writeFile(t, dir, "a.png")

	snap, err := Take(dir, Matcher{Extensions: []string{"png"}})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	// Touch the baseline file; it must never reappear in a diff.
	if err := os.Chtimes(baseline, time.Now(), time.Now()); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeFile(t, dir, "b.png")
	writeFile(t, dir, "c.txt")

	fresh, err := snap.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(fresh) != 1 || filepath.Base(fresh[0]) != "b.png" {
		t.Fatalf("expected only b.png, got %v", fresh)
	}
}

func TestMatcherCaseInsensitive(t *testing.T) {
	m := Matcher{Pattern: "qwen", Extensions: []string{"PNG", ".jpg"}}
	cases := []struct {
		name string
		want bool
	}{
		{"QWEN_42.png", true},
		{"qwen_42.JPG", true},
		{"qwen_42.mp4", false},
		{"other_42.png", false},
	}
	for _, tc := range cases {
		if got := m.Match(tc.name); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	empty := Matcher{Extensions: []string{"png"}}
	if !empty.Match("anything.png") {
		t.Error("empty pattern should match any name with an allowed extension")
	}
}

func TestAwaitReturnsOnFirstNewFile(t *testing.T) {
	dir := t.TempDir()
	snap, err := Take(dir, Matcher{Extensions: []string{"png"}})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "out.png"), []byte("x"), 0o644)
	}()

	files := snap.Await(context.Background(), time.Second, 10*time.Millisecond)
	if len(files) != 1 || filepath.Base(files[0]) != "out.png" {
		t.Fatalf("expected out.png, got %v", files)
	}
}

func TestAwaitTimesOutEmpty(t *testing.T) {
	dir := t.TempDir()
	snap, err := Take(dir, Matcher{Extensions: []string{"png"}})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	files := snap.Await(context.Background(), 50*time.Millisecond, 10*time.Millisecond)
	if files != nil {
		t.Fatalf("expected empty result on timeout, got %v", files)
	}
}

func TestAwaitCancellation(t *testing.T) {
	dir := t.TempDir()
	snap, err := Take(dir, Matcher{Extensions: []string{"png"}})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	files := snap.Await(ctx, 10*time.Second, 20*time.Millisecond)
	if files != nil {
		t.Fatalf("expected nil after cancellation, got %v", files)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not unblock promptly")
	}
}

func TestRelocateCreatesDestinationDirs(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "out.png")
	dst := filepath.Join(dir, "final", "nested", "final.png")

	if err := Relocate([]string{src}, []string{dst}); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present after move")
	}
}

func TestRelocateCountMismatch(t *testing.T) {
	if err := Relocate([]string{"a"}, []string{"x", "y"}); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestRelocateStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "one.png")
	missing := filepath.Join(dir, "does-not-exist.png")
	dstOne := filepath.Join(dir, "moved", "one.png")
	dstTwo := filepath.Join(dir, "moved", "two.png")

	err := Relocate([]string{first, missing}, []string{dstOne, dstTwo})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	// Already-moved files stay moved.
	if _, statErr := os.Stat(dstOne); statErr != nil {
		t.Fatalf("first file should remain moved: %v", statErr)
	}
}
