package deposit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

// Entry describes one file written by a deposit.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Note string `json:"note,omitempty"`
}

// Result is the response body for a completed deposit.
type Result struct {
	Folder   string   `json:"folder"`
	Manifest []Entry  `json:"manifest"`
	Warnings []string `json:"warnings"`
}

// archiveExts are the payload extensions routed through extraction.
// Zip containers that are really documents (docx, apk, jar) stay intact.
var archiveExts = []string{
	".zip", ".tar", ".tgz", ".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".7z", ".rar",
}

func isArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Service writes uploaded payloads into project folders, expanding
// archives and normalizing images on the way in.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Deposit routes one uploaded payload into destDir. Archives are expanded
// entry by entry, oversized images are downscaled, HEIC is converted to
// JPEG, and everything else is written through unchanged.
func (s *Service) Deposit(ctx context.Context, destDir, filename string, r io.Reader) ([]Entry, []string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create destination: %w", err)
	}

	filename = sanitizeFilename(filename)
	if filename == "" || filename == "." {
		return nil, nil, errors.New("upload has no usable filename")
	}

	spool, err := spoolToTemp(r)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	if isArchiveName(filename) {
		format, _, err := archives.Identify(ctx, filename, spool)
		if err != nil && !errors.Is(err, archives.NoMatch) {
			return nil, nil, fmt.Errorf("failed to identify archive %s: %w", filename, err)
		}
		if extractor, ok := format.(archives.Extractor); err == nil && ok {
			if _, err := spool.Seek(0, io.SeekStart); err != nil {
				return nil, nil, err
			}
			return s.extract(ctx, extractor, spool, destDir, filename)
		}
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}

	if strings.HasPrefix(detectMime(filename), "image/") {
		entry, err := s.depositImage(spool, destDir, filename)
		if err == nil {
			return []Entry{entry}, nil, nil
		}
		// Undecodable images are stored as-is.
		log.Warn().Err(err).Str("filename", filename).Msg("image processing failed, storing original")
		if _, serr := spool.Seek(0, io.SeekStart); serr != nil {
			return nil, nil, serr
		}
	}

	entry, err := writeThrough(spool, destDir, filename, "")
	if err != nil {
		return nil, nil, err
	}
	return []Entry{entry}, nil, nil
}

// extract expands an archive into destDir. Entries whose names escape the
// destination are skipped with a warning instead of failing the deposit.
func (s *Service) extract(ctx context.Context, extractor archives.Extractor, src io.Reader, destDir, archiveName string) ([]Entry, []string, error) {
	var entries []Entry
	var warnings []string

	err := extractor.Extract(ctx, src, func(ctx context.Context, f archives.FileInfo) error {
		name := filepath.FromSlash(f.NameInArchive)
		if !filepath.IsLocal(name) {
			warnings = append(warnings, fmt.Sprintf("skipped %q: path escapes the destination folder", f.NameInArchive))
			return nil
		}
		if f.IsDir() {
			return os.MkdirAll(filepath.Join(destDir, name), 0755)
		}
		if f.LinkTarget != "" {
			warnings = append(warnings, fmt.Sprintf("skipped %q: links are not extracted", f.NameInArchive))
			return nil
		}

		rc, err := f.Open()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped %q: %v", f.NameInArchive, err))
			return nil
		}
		defer rc.Close()

		dir := filepath.Join(destDir, filepath.Dir(name))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		finalName := dedupeFilename(dir, filepath.Base(name))
		dest := filepath.Join(dir, finalName)

		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		n, err := io.Copy(out, rc)
		cerr := out.Close()
		if err != nil {
			os.Remove(dest)
			return err
		}
		if cerr != nil {
			return cerr
		}

		rel, rerr := filepath.Rel(destDir, dest)
		if rerr != nil {
			rel = finalName
		}
		entries = append(entries, Entry{Name: rel, Size: n, Note: "extracted from " + archiveName})
		return nil
	})
	if err != nil {
		return entries, warnings, fmt.Errorf("failed to extract %s: %w", archiveName, err)
	}

	log.Info().
		Str("archive", archiveName).
		Int("files", len(entries)).
		Int("warnings", len(warnings)).
		Msg("archive extracted")
	return entries, warnings, nil
}

// spoolToTemp buffers an upload to disk so archive extraction can seek.
func spoolToTemp(r io.Reader) (*os.File, error) {
	dir := config.Get().UploadsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "deposit-*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}

// writeThrough stores src under destDir, renaming on collision.
func writeThrough(src io.Reader, destDir, filename, note string) (Entry, error) {
	name := dedupeFilename(destDir, filename)
	dest := filepath.Join(destDir, name)

	out, err := os.Create(dest)
	if err != nil {
		return Entry{}, err
	}
	n, err := io.Copy(out, src)
	cerr := out.Close()
	if err != nil {
		os.Remove(dest)
		return Entry{}, err
	}
	if cerr != nil {
		return Entry{}, cerr
	}
	return Entry{Name: name, Size: n, Note: note}, nil
}
