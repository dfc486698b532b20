package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp"} {
		if !IsImageFile(name) {
			t.Errorf("%s should be an image file", name)
		}
	}
	for _, name := range []string{"a.gif", "notes.txt", "noext"} {
		if IsImageFile(name) {
			t.Errorf("%s should not be an image file", name)
		}
	}
}

func TestCollectSources(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	os.MkdirAll(sub, 0755)
	for _, name := range []string{"b.png", "a.jpg", "readme.md", "sub/c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(dir, "a.jpg")

	got, err := CollectSources([]string{dir, single, "https://example.com/cat.png"})
	if err != nil {
		t.Fatalf("CollectSources failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "c.webp"),
		single,
		"https://example.com/cat.png",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if _, err := CollectSources([]string{filepath.Join(dir, "missing.png")}); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		5 << 20: "5.0 MB",
	}
	for size, want := range cases {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d) = %s, want %s", size, got, want)
		}
	}
}

func TestIsURL(t *testing.T) {
	if !IsURL("http://x/y.png") || !IsURL("https://x") || IsURL("ftp://x") || IsURL("/tmp/x.png") {
		t.Error("unexpected IsURL result")
	}
}
