package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blankPDF builds a PDF with the given number of empty A4 pages.
func blankPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func writeBlankPDF(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blank.pdf")
	require.NoError(t, os.WriteFile(path, blankPDF(pages), 0644))
	return path
}

func TestPageCount(t *testing.T) {
	path := writeBlankPDF(t, 3)
	n, err := PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPageCountNotPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0644))
	_, err := PageCount(path)
	assert.Error(t, err)
}

func TestNewRasterizerDefaults(t *testing.T) {
	r := NewRasterizer("", 0)
	assert.Equal(t, "pdftoppm", r.Command)
	assert.Equal(t, 200, r.DPI)
}

func TestRasterizePage(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed in PATH")
	}
	path := writeBlankPDF(t, 2)

	img, err := NewRasterizer("", 72).Page(context.Background(), path, 2)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic))
}

func TestRasterizeMissingCommand(t *testing.T) {
	r := NewRasterizer("/nonexistent/pdftoppm", 72)
	_, err := r.Page(context.Background(), "whatever.pdf", 1)
	assert.Error(t, err)
}
