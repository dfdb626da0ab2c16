package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReaderKnownVector(t *testing.T) {
	got, err := Reader(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	const want = "a9993e364706816aba3e25717850c26c9cd0d89d"
	if got != want {
		t.Fatalf("Reader(\"abc\") = %s, want %s", got, want)
	}
}

func TestFileMatchesReader(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blob")
	if err := os.WriteFile(p, []byte("hello, world"), 0664); err != nil {
		t.Fatal(err)
	}

	want, err := Reader(strings.NewReader("hello, world"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := File(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("File() = %s, want %s", got, want)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
