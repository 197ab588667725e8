// Package preview renders downscaled copies of uploaded images and stores
// them next to the originals.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"dataferry/internal/config"
	"dataferry/internal/storage"
)

type Generator struct {
	store storage.ObjectStore
	opts  config.PreviewOptions
	log   *zap.SugaredLogger
}

func New(store storage.ObjectStore, opts config.PreviewOptions, log *zap.SugaredLogger) *Generator {
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	if opts.Folder == "" {
		opts.Folder = ".previews"
	}
	return &Generator{store: store, opts: opts, log: log}
}

// Eligible reports whether the file is an image previews can be made from.
func Eligible(filePath string) bool {
	mt, err := mimetype.DetectFile(filePath)
	if err != nil {
		return false
	}
	return mt.Is("image/jpeg") || mt.Is("image/png")
}

// Generate stores one preview per configured width for the object at key
// and returns the preview keys. Non-image files are ignored.
func (g *Generator) Generate(ctx context.Context, filePath, key string) ([]string, error) {
	if !Eligible(filePath) {
		return nil, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	keys := make([]string, 0, len(g.opts.Sizes))
	for _, width := range g.opts.Sizes {
		if width <= 0 {
			continue
		}

		thumb, err := g.render(img, width)
		if err != nil {
			return keys, fmt.Errorf("failed to render %dpx preview: %w", width, err)
		}

		previewKey := Key(key, g.opts.Folder, width, g.opts.ConvertTo)
		if _, err := g.store.PutObject(ctx, previewKey, bytes.NewReader(thumb), int64(len(thumb)), contentType(g.opts.ConvertTo)); err != nil {
			return keys, fmt.Errorf("failed to store %dpx preview: %w", width, err)
		}
		keys = append(keys, previewKey)
	}

	g.log.Debugw("stored previews", "key", key, "previews", keys)
	return keys, nil
}

func (g *Generator) render(img image.Image, width int) ([]byte, error) {
	resized := img
	if img.Bounds().Dx() > width {
		resized = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	var err error
	switch format(g.opts.ConvertTo) {
	case "png":
		err = png.Encode(&buf, resized)
	case "webp":
		err = webp.Encode(&buf, resized, &webp.Options{Quality: float32(g.opts.Quality)})
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: g.opts.Quality})
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Key places a preview in folder beside the original:
// data/set/img/a.png -> data/set/img/.previews/a_256.jpg
func Key(objectKey, folder string, width int, convertTo string) string {
	dir, name := path.Split(objectKey)
	base := strings.TrimSuffix(name, path.Ext(name))
	ext := format(convertTo)
	if ext == "jpeg" {
		ext = "jpg"
	}
	return path.Join(dir, folder, fmt.Sprintf("%s_%d.%s", base, width, ext))
}

func format(convertTo string) string {
	switch c := strings.ToLower(convertTo); {
	case strings.Contains(c, "png"):
		return "png"
	case strings.Contains(c, "webp"):
		return "webp"
	}
	return "jpeg"
}

func contentType(convertTo string) string {
	return "image/" + format(convertTo)
}
