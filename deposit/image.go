package deposit

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"

	// Register GIF and WebP decoders so image.Decode can handle them
	_ "image/gif"

	_ "golang.org/x/image/webp"
)

const (
	maxImageDimension = 2048
	jpegQuality       = 85
)

// depositImage writes an uploaded image, downscaling anything larger than
// maxImageDimension on either edge. HEIC input is converted to JPEG.
func (s *Service) depositImage(src *os.File, destDir, filename string) (Entry, error) {
	mime := detectMime(filename)

	// HEIC/HEIF needs a dedicated decoder (not registered with image.Decode)
	if mime == "image/heic" || mime == "image/heif" {
		img, err := heic.Decode(src)
		if err != nil {
			return Entry{}, fmt.Errorf("decode heic: %w", err)
		}
		name := replaceExt(filename, ".jpg")
		return encodeJPEG(fitImage(img), destDir, name, "converted to JPEG")
	}

	cfg, _, err := image.DecodeConfig(src)
	if err != nil {
		return Entry{}, fmt.Errorf("decode image config (%s): %w", mime, err)
	}
	if cfg.Width <= maxImageDimension && cfg.Height <= maxImageDimension {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return Entry{}, err
		}
		return writeThrough(src, destDir, filename, "")
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return Entry{}, err
	}
	img, kind, err := image.Decode(src)
	if err != nil {
		return Entry{}, fmt.Errorf("decode image (%s): %w", mime, err)
	}
	resized := fitImage(img)

	switch kind {
	case "png":
		return encodePNG(resized, destDir, filename, "downscaled to fit 2048px")
	case "gif":
		// Re-encoding drops animation, only the first frame survives
		return encodeJPEG(resized, destDir, replaceExt(filename, ".jpg"), "downscaled to fit 2048px (first frame)")
	case "webp":
		return encodeJPEG(resized, destDir, replaceExt(filename, ".jpg"), "downscaled to fit 2048px")
	default:
		return encodeJPEG(resized, destDir, filename, "downscaled to fit 2048px")
	}
}

// fitImage scales an image so both edges are at most maxImageDimension,
// preserving aspect ratio. Smaller images are returned as-is.
func fitImage(src image.Image) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= maxImageDimension && h <= maxImageDimension {
		return src
	}

	var newW, newH int
	if w >= h {
		newW = maxImageDimension
		newH = h * maxImageDimension / w
	} else {
		newH = maxImageDimension
		newW = w * maxImageDimension / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, destDir, filename, note string) (Entry, error) {
	return encodeTo(destDir, filename, note, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	})
}

func encodePNG(img image.Image, destDir, filename, note string) (Entry, error) {
	return encodeTo(destDir, filename, note, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}

func encodeTo(destDir, filename, note string, encode func(io.Writer) error) (Entry, error) {
	name := dedupeFilename(destDir, filename)
	dest := filepath.Join(destDir, name)

	out, err := os.Create(dest)
	if err != nil {
		return Entry{}, err
	}
	if err := encode(out); err != nil {
		out.Close()
		os.Remove(dest)
		return Entry{}, fmt.Errorf("encode image: %w", err)
	}
	if err := out.Close(); err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: info.Size(), Note: note}, nil
}

func replaceExt(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}
