package ocr

import (
	"context"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/pkg/errors"
)

// Tesseract recognizes text with libtesseract through gosseract. A single
// client is reused across pages since loading trained data dominates the cost.
type Tesseract struct {
	Languages   []string
	TessdataDir string
	PSM         int

	mu     sync.Mutex
	client *gosseract.Client
}

func NewTesseract(languages []string, tessdataDir string, psm int) *Tesseract {
	return &Tesseract{
		Languages:   append([]string(nil), languages...),
		TessdataDir: tessdataDir,
		PSM:         psm,
	}
}

func (t *Tesseract) init() error {
	if t.client != nil {
		return nil
	}
	c := gosseract.NewClient()
	if t.TessdataDir != "" {
		if err := c.SetTessdataPrefix(t.TessdataDir); err != nil {
			c.Close()
			return errors.Wrap(err, "set tessdata prefix")
		}
	}
	if len(t.Languages) > 0 {
		if err := c.SetLanguage(t.Languages...); err != nil {
			c.Close()
			return errors.Wrap(err, "set languages")
		}
	}
	if t.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(t.PSM)); err != nil {
			c.Close()
			return errors.Wrap(err, "set page segmentation mode")
		}
	}
	t.client = c
	return nil
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.init(); err != nil {
		return nil, err
	}
	if err := t.client.SetImageFromBytes(image); err != nil {
		return nil, errors.Wrap(err, "set image")
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, errors.Wrap(err, "recognize text")
	}
	return Lines(text), nil
}

// Close releases the underlying tesseract client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
