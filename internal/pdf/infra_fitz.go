package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer renders pages in-process with MuPDF. The document is opened per page,
// so nothing but the current page stays decoded between calls.
type FitzRenderer struct{}

func NewFitzRenderer() *FitzRenderer {
	return &FitzRenderer{}
}

func (r *FitzRenderer) RenderPage(ctx context.Context, req RenderRequest) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Document == nil || req.Page < 1 {
		return nil, fmt.Errorf("invalid render request")
	}

	doc, err := fitz.New(req.Document.Path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if req.Page > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (%d pages)", req.Page, doc.NumPage())
	}

	img, err := doc.ImageDPI(req.Page-1, float64(req.DPI))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", req.Page, err)
	}
	return NewRaster(img, nil), nil
}
