package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalker_IncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "alpha")
	writeFile(t, filepath.Join(root, "docs", "b.txt"), "beta")
	writeFile(t, filepath.Join(root, "docs", "c.go"), "package c")
	writeFile(t, filepath.Join(root, "node_modules", "d.md"), "skip")
	writeFile(t, filepath.Join(root, "big.md"), "0123456789")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/node_modules/**"}, 8)
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, f := range files {
		got = append(got, f.RelPath)
	}
	want := []string{"a.md", "docs/b.txt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestWalker_SingleFileRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.rst")
	writeFile(t, path, "notes")

	files, err := NewWalker([]string{"**/*.md"}, nil, 0).Walk(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].RelPath != "notes.rst" {
		t.Errorf("expected the file itself, got %+v", files)
	}
}

func TestWalker_MissingRoot(t *testing.T) {
	if _, err := NewWalker(nil, nil, 0).Walk(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestTextProvider_GetText(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doc.txt")
	writeFile(t, path, "\xEF\xBB\xBFParis is the capital of France.")

	text, err := NewTextProvider(0).GetText(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Paris is the capital of France." {
		t.Errorf("unexpected text %q", text)
	}
}

func TestTextProvider_Rejects(t *testing.T) {
	root := t.TempDir()
	binary := filepath.Join(root, "bin.dat")
	writeFile(t, binary, "\xff\xfe\x00bad")
	large := filepath.Join(root, "large.txt")
	writeFile(t, large, "0123456789")

	p := NewTextProvider(5)
	if _, err := p.GetText(context.Background(), binary); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
	if _, err := p.GetText(context.Background(), large); err == nil {
		t.Error("expected error for oversized file")
	}
	if _, err := p.GetText(context.Background(), root); err == nil {
		t.Error("expected error for directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.GetText(ctx, large); err == nil {
		t.Error("expected error for cancelled context")
	}
}
