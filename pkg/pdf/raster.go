package pdf

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNoImage is returned when the renderer produced no image for a page.
var ErrNoImage = errors.New("no image rendered")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Rasterizer renders single PDF pages to PNG with poppler's pdftoppm.
type Rasterizer struct {
	Command string
	DPI     int
	Debug   bool
}

func NewRasterizer(command string, dpi int) *Rasterizer {
	if command == "" {
		command = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &Rasterizer{Command: command, DPI: dpi}
}

// Page renders the 1-based page of the PDF at path.
func (r *Rasterizer) Page(ctx context.Context, path string, page int) (img []byte, err error) {
	dir, err := os.MkdirTemp("", "pdfocr-page")
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(dir)

	root := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, r.Command,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(r.DPI),
		"-png", "-singlefile",
		path, root,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "%s page %d: %s", r.Command, page, bytes.TrimSpace(out))
	}
	if r.Debug {
		log.Debugf("exec %s:\n%s", cmd.Args, string(out))
	}

	img, err = os.ReadFile(root + ".png")
	if os.IsNotExist(err) {
		return nil, ErrNoImage
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read page %d", page)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		return nil, ErrNoImage
	}
	return
}
