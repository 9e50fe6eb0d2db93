package pdf

import (
	"context"
	"image"
	"io"
)

// Source is one uploaded document before it is materialised on disk.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Document is a materialised PDF owned by exactly one job.
type Document struct {
	Name  string // база для имён страниц в архиве
	Path  string
	Pages int

	cleanup func() error
}

func NewDocument(name, path string, pages int, cleanup func() error) *Document {
	return &Document{Name: name, Path: path, Pages: pages, cleanup: cleanup}
}

// Close удаляет временные файлы документа. Повторный вызов безопасен.
func (d *Document) Close() error {
	if d == nil || d.cleanup == nil {
		return nil
	}
	fn := d.cleanup
	d.cleanup = nil
	return fn()
}

type RenderRequest struct {
	Document *Document
	Page     int // 1-based
	DPI      int
}

// Raster is one decoded page. Whoever receives it must call Release once done.
type Raster struct {
	Image   image.Image
	release func()
}

func NewRaster(img image.Image, release func()) *Raster {
	return &Raster{Image: img, release: release}
}

func (r *Raster) Release() {
	if r == nil {
		return
	}
	r.Image = nil
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

// Renderer renders exactly one page of a document.
type Renderer interface {
	RenderPage(ctx context.Context, req RenderRequest) (*Raster, error)
}

type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// Sink receives serialized pages in order.
type Sink interface {
	WriteEntry(name string, data []byte) error
}
