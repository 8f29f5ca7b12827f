package localmedia

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFileAt(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestNewestMediaFilePicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFileAt(t, dir, "aaa.mp4", now.Add(-2*time.Hour))
	want := writeFileAt(t, dir, "zzz.webm", now.Add(-time.Minute))
	// Non-media output next to the video must never win.
	writeFileAt(t, dir, "zzzz.info.json", now)

	got, err := newestMediaFile(dir)
	if err != nil {
		t.Fatalf("newestMediaFile: %v", err)
	}
	if got != want {
		t.Fatalf("newest: want=%q got=%q", want, got)
	}
}

func TestNewestMediaFileEmptyDir(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir, "notes.txt", time.Now())

	if _, err := newestMediaFile(dir); err == nil {
		t.Fatalf("want error for directory without media files")
	}
}
