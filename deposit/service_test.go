package deposit

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlainFileWrittenThrough(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	entries, warnings, err := s.Deposit(context.Background(), dest, "notes.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Name != "notes.txt" || entries[0].Size != 11 || entries[0].Note != "" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}

	data, err := os.ReadFile(filepath.Join(dest, "notes.txt"))
	if err != nil {
		t.Fatalf("reading deposited file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestCollisionGetsNumberedName(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	if _, _, err := s.Deposit(context.Background(), dest, "a.txt", strings.NewReader("first")); err != nil {
		t.Fatalf("first Deposit: %v", err)
	}
	entries, _, err := s.Deposit(context.Background(), dest, "a.txt", strings.NewReader("second"))
	if err != nil {
		t.Fatalf("second Deposit: %v", err)
	}
	if entries[0].Name != "a 2.txt" {
		t.Errorf("expected collision rename to 'a 2.txt', got %q", entries[0].Name)
	}
}

func buildZip(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return &buf
}

func TestZipExtractionSkipsEscapingEntries(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	buf := buildZip(t, map[string]string{
		"docs/readme.md": "# hi",
		"../evil.txt":    "nope",
	})

	entries, warnings, err := s.Deposit(context.Background(), dest, "bundle.zip", buf)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 extracted entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].Name != filepath.Join("docs", "readme.md") {
		t.Errorf("unexpected entry name %q", entries[0].Name)
	}
	if !strings.Contains(entries[0].Note, "bundle.zip") {
		t.Errorf("expected extraction note to name the archive, got %q", entries[0].Note)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "../evil.txt") {
		t.Errorf("expected one warning about the escaping entry, got %v", warnings)
	}
	if _, err := os.Stat(filepath.Join(dest, "..", "evil.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry was written outside the destination")
	}

	data, err := os.ReadFile(filepath.Join(dest, "docs", "readme.md"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "# hi" {
		t.Errorf("unexpected extracted content: %q", data)
	}
}

func TestZipContainerDocumentsStayIntact(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	buf := buildZip(t, map[string]string{"word/document.xml": "<w/>"})
	raw := buf.Bytes()

	entries, _, err := s.Deposit(context.Background(), dest, "report.docx", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "report.docx" {
		t.Fatalf("expected the docx to be stored whole, got %+v", entries)
	}
	if entries[0].Size != int64(len(raw)) {
		t.Errorf("expected size %d, got %d", len(raw), entries[0].Size)
	}
}

func encodePNGImage(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test png: %v", err)
	}
	return &buf
}

func TestOversizedImageDownscaled(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	buf := encodePNGImage(t, 3000, 1500)
	entries, _, err := s.Deposit(context.Background(), dest, "wide.png", buf)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !strings.Contains(entries[0].Note, "downscaled") {
		t.Errorf("expected a downscale note, got %q", entries[0].Note)
	}

	f, err := os.Open(filepath.Join(dest, entries[0].Name))
	if err != nil {
		t.Fatalf("opening deposited image: %v", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decoding deposited image: %v", err)
	}
	if cfg.Width != 2048 || cfg.Height != 1024 {
		t.Errorf("expected 2048x1024, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestSmallImageUntouched(t *testing.T) {
	dest := t.TempDir()
	s := NewService()

	buf := encodePNGImage(t, 64, 32)
	original := buf.Len()

	entries, _, err := s.Deposit(context.Background(), dest, "icon.png", buf)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if entries[0].Note != "" {
		t.Errorf("expected no processing note, got %q", entries[0].Note)
	}
	if entries[0].Size != int64(original) {
		t.Errorf("expected original bytes (%d) written, got %d", original, entries[0].Size)
	}
}

func TestRejectsEmptyFilename(t *testing.T) {
	s := NewService()
	if _, _, err := s.Deposit(context.Background(), t.TempDir(), "", strings.NewReader("x")); err == nil {
		t.Error("expected error for empty filename")
	}
}
