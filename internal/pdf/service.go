package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/Vovarama1992/alphasnap/internal/mask"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var (
	ErrPageRenderFailed     = errors.New("page render failed")
	ErrDocumentRenderFailed = errors.New("no page of the document could be rendered")
)

type Options struct {
	DPI         int
	Transparent bool
	MaxPages    int // <= 0 значит без ограничения
}

// Report describes what happened to one document.
type Report struct {
	Document  string
	Pages     int   // страниц в документе
	Processed int   // сколько пытались отрендерить
	Succeeded int
	Failed    []int // номера страниц с ошибкой
	Entries   []string
}

// Pipeline converts one document page by page. A page is rendered, masked or flattened,
// encoded and handed to the sink before the next page is rendered.
type Pipeline struct {
	renderer Renderer
	mask     *mask.Engine
	encoder  png.Encoder
	log      *zap.Logger
}

type PipelineOption func(*Pipeline)

func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

func WithCompression(level png.CompressionLevel) PipelineOption {
	return func(p *Pipeline) { p.encoder.CompressionLevel = level }
}

func NewPipeline(r Renderer, m *mask.Engine, opts ...PipelineOption) *Pipeline {
	if m == nil {
		m = mask.NewEngine(mask.DefaultThreshold)
	}
	p := &Pipeline{
		renderer: r,
		mask:     m,
		encoder:  png.Encoder{CompressionLevel: png.DefaultCompression},
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EntryName is the archive name of one page: <base>_<page:03d>.png.
func EntryName(base string, page int) string {
	return fmt.Sprintf("%s_%03d.png", base, page)
}

// ConvertDocument renders pages 1..min(doc.Pages, MaxPages) strictly in order.
// Render failures of single pages are recorded and skipped. Cancellation and sink
// errors abort the document.
func (p *Pipeline) ConvertDocument(ctx context.Context, doc *Document, opts Options, sink Sink) (Report, error) {
	rep := Report{Document: doc.Name, Pages: doc.Pages}

	total := doc.Pages
	if opts.MaxPages > 0 && total > opts.MaxPages {
		total = opts.MaxPages
	}
	rep.Processed = total

	log := p.log.With(zap.String("document", doc.Name), zap.Int("dpi", opts.DPI))

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("document %s aborted before page %d: %w", doc.Name, page, err)
		}

		data, err := p.convertPage(ctx, doc, page, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, fmt.Errorf("document %s aborted on page %d: %w", doc.Name, page, ctxErr)
			}
			log.Warn("page skipped", zap.Int("page", page), zap.Error(err))
			rep.Failed = append(rep.Failed, page)
			continue
		}

		name := EntryName(doc.Name, page)
		if err := sink.WriteEntry(name, data); err != nil {
			return rep, fmt.Errorf("write %s: %w", name, err)
		}
		log.Debug("page converted", zap.Int("page", page), zap.String("size", humanize.Bytes(uint64(len(data)))))

		rep.Succeeded++
		rep.Entries = append(rep.Entries, name)
	}

	if rep.Succeeded == 0 {
		return rep, fmt.Errorf("%s: %w", doc.Name, ErrDocumentRenderFailed)
	}
	return rep, nil
}

// convertPage owns the raster for exactly its own duration.
func (p *Pipeline) convertPage(ctx context.Context, doc *Document, page int, opts Options) ([]byte, error) {
	raster, err := p.renderer.RenderPage(ctx, RenderRequest{Document: doc, Page: page, DPI: opts.DPI})
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrPageRenderFailed, page, err)
	}
	defer raster.Release()

	if raster == nil || raster.Image == nil {
		return nil, fmt.Errorf("%w: page %d: empty raster", ErrPageRenderFailed, page)
	}

	var out image.Image
	if opts.Transparent {
		out = p.mask.Apply(raster.Image)
	} else {
		out = flatten(raster.Image)
	}

	var buf bytes.Buffer
	if err := p.encoder.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", page, err)
	}
	return buf.Bytes(), nil
}

// flatten returns an opaque image, compositing over white when the source has transparency.
func flatten(src image.Image) image.Image {
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Over)
	return dst
}
