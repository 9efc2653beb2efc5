package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/minify"
	"kbingest/internal/text"
)

var extensionTypes = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
}

// FileExtractor reads plain text, markdown and HTML uploads.
type FileExtractor struct {
	MaxBytes int64
}

func (e FileExtractor) Extract(ctx context.Context, src content.SourceRef) (string, error) {
	mt := mediaType(src)
	switch mt {
	case "text/plain", "text/markdown", "text/html":
	default:
		return "", errkind.Integrity("extract", fmt.Errorf("unsupported file type %q", mt))
	}

	f, err := os.Open(src.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errkind.Integrity("extract", fmt.Errorf("file %s: %w", src.FilePath, errkind.ErrNotFound))
	}
	if err != nil {
		return "", errkind.Transient("extract", err)
	}
	defer f.Close()

	limit := e.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	raw, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", errkind.Transient("extract", err)
	}

	if mt != "text/html" {
		return string(raw), nil
	}
	res, err := minify.Minify(string(raw), "file:///"+filepath.Base(src.FilePath))
	if err != nil {
		return "", errkind.Integrity("extract", err)
	}
	return text.PlainText(res.Text), nil
}

func mediaType(src content.SourceRef) string {
	if src.MimeType != "" {
		if mt, _, err := mime.ParseMediaType(src.MimeType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	name := src.FileName
	if name == "" {
		name = src.FilePath
	}
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}
