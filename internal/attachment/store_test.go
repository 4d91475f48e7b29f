package attachment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_Save(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir, "/attachments/")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	url, err := store.Save("comprovante.PNG", strings.NewReader("proof bytes"))
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if !strings.HasPrefix(url, "/attachments/") {
		t.Fatalf("url %q must start with base URL", url)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Fatalf("url %q must keep the lowercased extension", url)
	}

	name := strings.TrimPrefix(url, "/attachments/")
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(content) != "proof bytes" {
		t.Fatalf("stored content = %q", string(content))
	}
}

func TestFileStore_UniqueNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/attachments")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	first, err := store.Save("a.jpg", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	second, err := store.Save("a.jpg", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if first == second {
		t.Fatalf("two uploads of the same filename must not collide: %q", first)
	}
}
