package fs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"kb/internal/port"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextProvider reads plain UTF-8 text files from disk.
type TextProvider struct {
	maxBytes int64
}

// NewTextProvider creates a provider. maxBytes <= 0 disables the size limit.
func NewTextProvider(maxBytes int64) *TextProvider {
	return &TextProvider{maxBytes: maxBytes}
}

// GetText returns the file contents without a leading byte order mark.
func (p *TextProvider) GetText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if p.maxBytes > 0 && info.Size() > p.maxBytes {
		return "", fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), p.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", path)
	}
	return string(data), nil
}

var _ port.DocumentTextProvider = (*TextProvider)(nil)
