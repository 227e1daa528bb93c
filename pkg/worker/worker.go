// Package worker drains the upload queue, recognizing one PDF at a time.
package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ushtipak/pdfocr/pkg/jobs"
	"github.com/ushtipak/pdfocr/pkg/metrics"
	"github.com/ushtipak/pdfocr/pkg/ocr"
	"github.com/ushtipak/pdfocr/pkg/pdf"
	"github.com/ushtipak/pdfocr/pkg/queue"
	"github.com/ushtipak/pdfocr/pkg/store"
)

// Rasterizer renders one 1-based page of a PDF to an encoded image.
type Rasterizer interface {
	Page(ctx context.Context, path string, page int) ([]byte, error)
}

// PageCounter reports the number of pages in a PDF.
type PageCounter func(path string) (int, error)

type Worker struct {
	Queue      *queue.Queue
	Tracker    *queue.Tracker
	Store      *store.Store
	Jobs       jobs.Storage
	PageCount  PageCounter
	Rasterizer Rasterizer
	Recognizer ocr.Recognizer
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger

	mu  sync.Mutex
	ids map[string][]string
}

func (w *Worker) logger() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}

// Submit records a job for an already stored upload and enqueues its name.
func (w *Worker) Submit(name, md5sum string) (err error) {
	var id string
	if w.Jobs != nil {
		j, err := w.Jobs.Add(name, md5sum)
		if err != nil {
			return err
		}
		id = j.ID
	}
	w.enqueue(name, id)
	if w.Metrics != nil {
		w.Metrics.Uploads.Inc()
	}
	return
}

func (w *Worker) enqueue(name, id string) {
	if id != "" {
		w.mu.Lock()
		if w.ids == nil {
			w.ids = make(map[string][]string)
		}
		w.ids[name] = append(w.ids[name], id)
		w.mu.Unlock()
	}
	w.Queue.Push(name)
	w.gauge()
}

// jobID takes the oldest job recorded for name.
func (w *Worker) jobID(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := w.ids[name]
	if len(ids) == 0 {
		return ""
	}
	id := ids[0]
	if len(ids) == 1 {
		delete(w.ids, name)
	} else {
		w.ids[name] = ids[1:]
	}
	return id
}

func (w *Worker) gauge() {
	if w.Metrics != nil {
		w.Metrics.QueueDepth.Set(float64(w.Queue.Len()))
	}
}

// Recover re-enqueues jobs a previous run left queued or unfinished.
func (w *Worker) Recover() (n int, err error) {
	if w.Jobs == nil {
		return 0, nil
	}
	pending, err := w.Jobs.Pending()
	if err != nil {
		return 0, err
	}
	for _, j := range pending {
		if j.Status != jobs.Queued {
			if err := w.Jobs.SetStatus(j.ID, jobs.Queued, ""); err != nil {
				return n, err
			}
		}
		w.enqueue(j.Name, j.ID)
		n++
	}
	return
}

// Run processes queued files until ctx is cancelled. A file that fails is
// logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		name, err := w.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.gauge()
		w.handle(ctx, name)
	}
}

func (w *Worker) handle(ctx context.Context, name string) {
	log := w.logger().WithField("file", name)
	id := w.jobID(name)

	w.Tracker.Start(name)
	defer w.Tracker.Finish()
	w.setStatus(log, id, jobs.Processing, "")

	start := time.Now()
	err := w.Process(ctx, name, id)
	switch {
	case err != nil && ctx.Err() != nil:
		// interrupted by shutdown; the job stays processing and is recovered on restart
		log.WithError(err).Warn("processing interrupted")
	case err != nil:
		log.WithError(err).Error("processing failed, file skipped")
		w.setStatus(log, id, jobs.Failed, err.Error())
		if w.Metrics != nil {
			w.Metrics.FilesFailed.Inc()
		}
	default:
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("text saved to ", w.Store.ResultPath(name))
		w.setStatus(log, id, jobs.Done, "")
		if w.Metrics != nil {
			w.Metrics.FilesProcessed.Inc()
			w.Metrics.FileDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (w *Worker) setStatus(log logrus.FieldLogger, id string, status jobs.Status, msg string) {
	if w.Jobs == nil || id == "" {
		return
	}
	if err := w.Jobs.SetStatus(id, status, msg); err != nil {
		log.WithError(err).Warn("job status not recorded")
	}
}

// Process recognizes every page of the uploaded file and writes the result.
func (w *Worker) Process(ctx context.Context, name, id string) error {
	log := w.logger().WithField("file", name)
	path := w.Store.UploadPath(name)

	total, err := w.PageCount(path)
	if err != nil {
		return err
	}
	log.WithField("pages", total).Info("processing")

	texts := make([]string, 0, total)
	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := w.Rasterizer.Page(ctx, path, page)
		if errors.Is(err, pdf.ErrNoImage) {
			log.WithField("page", page).Warn("no image for page")
		} else if err != nil {
			return errors.Wrapf(err, "page %d", page)
		} else {
			lines, err := w.Recognizer.Recognize(ctx, img)
			if err != nil {
				return errors.Wrapf(err, "page %d", page)
			}
			text := ocr.PageText(lines)
			if text == "" {
				log.WithField("page", page).Info("empty page")
				if w.Metrics != nil {
					w.Metrics.EmptyPages.Inc()
				}
			}
			texts = append(texts, text)
			if w.Metrics != nil {
				w.Metrics.PagesRecognized.Inc()
			}
		}

		w.Tracker.Update(page, total)
		if w.Jobs != nil && id != "" {
			_, percent := w.Tracker.Current()
			if err := w.Jobs.SetProgress(id, total, percent); err != nil {
				log.WithError(err).Warn("job progress not recorded")
			}
		}
	}

	return w.Store.WriteResult(name, strings.Join(texts, "\n"))
}
