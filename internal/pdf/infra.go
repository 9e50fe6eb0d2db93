package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PopplerRenderer renders pages with the pdftoppm binary, one page per invocation.
type PopplerRenderer struct {
	bin    string
	tmpDir string
}

func NewPopplerRenderer(tmpDir string) *PopplerRenderer {
	return &PopplerRenderer{bin: "pdftoppm", tmpDir: tmpDir}
}

func (c *PopplerRenderer) RenderPage(ctx context.Context, req RenderRequest) (*Raster, error) {
	if req.Document == nil || req.Page < 1 {
		return nil, fmt.Errorf("invalid render request")
	}

	// отдельный temp-dir на страницу
	tmpDir, err := os.MkdirTemp(c.tmpDir, "pdfconv-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	outBase := filepath.Join(tmpDir, "page")
	page := strconv.Itoa(req.Page)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(
		ctx,
		c.bin,
		"-f", page,
		"-l", page,
		"-r", strconv.Itoa(req.DPI),
		"-png",
		"-singlefile",
		req.Document.Path,
		outBase,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", req.Page, err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(outBase + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: no output: %w", req.Page, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", req.Page, err)
	}

	return NewRaster(img, nil), nil
}
