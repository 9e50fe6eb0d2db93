// Package pdftest provides in-memory stand-ins for the renderer and the loader.
package pdftest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"

	"github.com/Vovarama1992/alphasnap/internal/pdf"
)

var ErrBrokenPage = errors.New("broken page")

// Renderer draws a solid page and tracks how many rasters are alive at once.
type Renderer struct {
	Width, Height int
	Fill          color.NRGBA
	// Fail lists pages per document name that must fail to render.
	Fail map[string]map[int]bool
	// OnRender runs before each page is produced.
	OnRender func(req pdf.RenderRequest)

	mu       sync.Mutex
	live     int
	maxLive  int
	rendered []string
}

func NewRenderer() *Renderer {
	return &Renderer{Width: 4, Height: 4, Fill: color.NRGBA{R: 255, G: 255, B: 255, A: 255}}
}

func (r *Renderer) FailPage(doc string, page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail == nil {
		r.Fail = map[string]map[int]bool{}
	}
	if r.Fail[doc] == nil {
		r.Fail[doc] = map[int]bool{}
	}
	r.Fail[doc][page] = true
}

func (r *Renderer) RenderPage(ctx context.Context, req pdf.RenderRequest) (*pdf.Raster, error) {
	if r.OnRender != nil {
		r.OnRender(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rendered = append(r.rendered, pdf.EntryName(req.Document.Name, req.Page))
	if r.Fail[req.Document.Name][req.Page] {
		return nil, ErrBrokenPage
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r.Fill.R, r.Fill.G, r.Fill.B, r.Fill.A
	}

	r.live++
	r.maxLive = max(r.maxLive, r.live)
	return pdf.NewRaster(img, func() {
		r.mu.Lock()
		r.live--
		r.mu.Unlock()
	}), nil
}

// Live is the number of rasters handed out and not yet released.
func (r *Renderer) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *Renderer) MaxLive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxLive
}

// Rendered lists render attempts as entry names, in call order.
func (r *Renderer) Rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rendered...)
}

// Source is an in-memory upload.
type Source struct {
	FileName string
	Data     string
}

func (s Source) Name() string { return s.FileName }

func (s Source) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.Data)), nil
}

// PDF returns a source whose content passes pdf.Sniff.
func PDF(name string) Source {
	return Source{FileName: name, Data: "%PDF-1.7\n%fake\n"}
}

// Loader hands out documents with preset page counts without touching disk.
type Loader struct {
	Pages map[string]int // по имени файла

	mu     sync.Mutex
	opened int
	closed int
}

func (l *Loader) Load(ctx context.Context, src pdf.Source) (*pdf.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := l.Pages[src.Name()]
	if !ok {
		return nil, pdf.ErrUnsupportedInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened++
	return pdf.NewDocument(pdf.BaseName(src.Name()), "", n, func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed++
		return nil
	}), nil
}

func (l *Loader) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

func (l *Loader) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
