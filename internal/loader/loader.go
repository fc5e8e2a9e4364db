// Package loader extracts plain text from user documents.
package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"mmassist/internal/domain"
)

var (
	// ErrUnsupportedType is returned for files that are neither PDF nor UTF-8 text.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrEmptyDocument is returned when no text could be extracted.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Load reads the file at path. name is the display name recorded as the
// chunk source; it defaults to the file's base name.
func Load(path, name string) (domain.Document, error) {
	if name == "" {
		name = filepath.Base(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Document{}, err
	}

	var (
		text    string
		docType domain.DocumentType
	)
	if strings.EqualFold(filepath.Ext(name), ".pdf") || strings.EqualFold(filepath.Ext(path), ".pdf") {
		docType = domain.DocumentPDF
		text, err = readPDF(path)
	} else {
		docType = domain.DocumentText
		text, err = readText(path)
	}
	if err != nil {
		return domain.Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("%s: %w", name, ErrEmptyDocument)
	}

	sum := sha256.Sum256([]byte(text))
	return domain.Document{
		ID:        fmt.Sprintf("%x", sum[:8]),
		Name:      name,
		Type:      docType,
		Text:      text,
		Size:      info.Size(),
		CreatedAt: time.Now(),
	}, nil
}

// LoadReader stores an upload in a temporary file carrying the upload's
// extension, loads it, and removes the temporary file before returning.
func LoadReader(ctx context.Context, name string, r io.Reader) (domain.Document, error) {
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(name))
	if err != nil {
		return domain.Document{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("save upload: %w", err)
	}

	return Load(tmp.Name(), name)
}

func readPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", &os.PathError{Op: "open pdf", Path: path, Err: err}
	}
	defer f.Close()

	b, err := rdr.GetPlainText()
	if err != nil {
		return "", &os.PathError{Op: "read pdf text", Path: path, Err: err}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", &os.PathError{Op: "read pdf buffer", Path: path, Err: err}
	}
	return buf.String(), nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", &os.PathError{Op: "decode", Path: path, Err: ErrUnsupportedType}
	}
	return string(data), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}
