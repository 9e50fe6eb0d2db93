package pdf

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopplerRenderer_RenderPage(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "two.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF(2), 0o600))
	doc := NewDocument("two", path, 2, nil)

	r := NewPopplerRenderer(dir)

	raster, err := r.RenderPage(context.Background(), RenderRequest{Document: doc, Page: 2, DPI: 72})
	require.NoError(t, err)
	defer raster.Release()

	b := raster.Image.Bounds()
	assert.Equal(t, 72, b.Dx())
	assert.Equal(t, 72, b.Dy())

	_, err = r.RenderPage(context.Background(), RenderRequest{Document: doc, Page: 0, DPI: 72})
	assert.Error(t, err)
}

func TestRaster_Release(t *testing.T) {
	calls := 0
	r := NewRaster(nil, func() { calls++ })
	r.Release()
	r.Release()
	assert.Equal(t, 1, calls)

	var nilRaster *Raster
	assert.NotPanics(t, nilRaster.Release)
}
