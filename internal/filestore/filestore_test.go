package filestore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveOpenRemove(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "content"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	name, err := s.Save(strings.NewReader("a,b\n1,2\n"), "Report.CSV")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(name, ".csv") {
		t.Fatalf("name=%q, want .csv suffix", name)
	}

	other, err := s.Save(strings.NewReader("x"), "Report.CSV")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if other == name {
		t.Fatalf("two saves share name %q", name)
	}

	f, err := s.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := io.ReadAll(f)
	f.Close()
	if err != nil || string(b) != "a,b\n1,2\n" {
		t.Fatalf("content=%q err=%v", b, err)
	}
	if n, err := s.Size(name); err != nil || n != 8 {
		t.Fatalf("Size=%d err=%v, want 8", n, err)
	}

	if err := s.Remove(name, other, "already-gone.csv"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Open(name); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open after Remove err=%v, want ErrNotExist", err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("store not empty after Remove: %v", entries)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range []string{"", ".", "..", "../x.csv", "a/b.csv", "/etc/passwd"} {
		if _, err := s.Path(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Path(%q) err=%v, want ErrInvalidName", name, err)
		}
	}
}
