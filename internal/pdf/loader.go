package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var (
	ErrUnsupportedInput = errors.New("not a PDF document")
	ErrNoName           = errors.New("document has no name")
)

// заголовок %PDF- допускается в первых 1024 байтах
const sniffLen = 1024

var pdfMagic = []byte("%PDF-")

// Sniff checks that src looks like a PDF without storing it anywhere.
func Sniff(src Source) error {
	if strings.TrimSpace(src.Name()) == "" {
		return ErrNoName
	}
	rc, err := src.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", src.Name(), err)
	}
	if !bytes.Contains(head[:n], pdfMagic) {
		return fmt.Errorf("%s: %w", src.Name(), ErrUnsupportedInput)
	}
	return nil
}

// BaseName strips directories and the extension from an uploaded file name.
func BaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "document"
	}
	return base
}

// PdfcpuCounter reads the page tree with pdfcpu.
type PdfcpuCounter struct{}

func (PdfcpuCounter) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	return n, nil
}

// Loader materialises sources into per-document temp directories.
type Loader struct {
	counter PageCounter
	tmpDir  string
}

func NewLoader(counter PageCounter, tmpDir string) *Loader {
	if counter == nil {
		counter = PdfcpuCounter{}
	}
	return &Loader{counter: counter, tmpDir: tmpDir}
}

func (l *Loader) Load(ctx context.Context, src Source) (*Document, error) {
	dir, err := os.MkdirTemp(l.tmpDir, "alphasnap-doc-*")
	if err != nil {
		return nil, err
	}
	doc := NewDocument(BaseName(src.Name()), filepath.Join(dir, "input.pdf"), 0, func() error {
		return os.RemoveAll(dir)
	})

	if err := copySource(src, doc.Path); err != nil {
		doc.Close()
		return nil, err
	}

	pages, err := l.counter.PageCount(ctx, doc.Path)
	if err != nil {
		doc.Close()
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	doc.Pages = pages
	return doc, nil
}

func copySource(src Source, dst string) error {
	rc, err := src.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("copy %s: %w", src.Name(), err)
	}
	return f.Close()
}
