// Package watch adopts PDFs dropped into an inbox directory.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ushtipak/pdfocr/pkg/digest"
	"github.com/ushtipak/pdfocr/pkg/store"
)

// Submitter enqueues a stored upload.
type Submitter interface {
	Submit(name, md5sum string) error
}

type Inbox struct {
	Dir    string
	Store  *store.Store
	Submit Submitter
	Log    logrus.FieldLogger
	// Settle is how long a file must go without writes before it is adopted.
	Settle time.Duration
}

// Run adopts PDFs already present in the inbox, then every PDF written to it
// until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.Dir, 0755); err != nil {
		return errors.Wrapf(err, "create inbox %s", in.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(in.Dir); err != nil {
		return errors.Wrapf(err, "watch %s", in.Dir)
	}

	entries, err := os.ReadDir(in.Dir)
	if err != nil {
		return errors.Wrapf(err, "list %s", in.Dir)
	}
	for _, e := range entries {
		if !e.IsDir() {
			in.adopt(filepath.Join(in.Dir, e.Name()))
		}
	}

	settle := in.Settle
	if settle <= 0 {
		settle = time.Second
	}
	tick := time.NewTicker(settle / 4)
	defer tick.Stop()
	touched := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				touched[event.Name] = time.Now()
			}
		case now := <-tick.C:
			for path, at := range touched {
				if now.Sub(at) >= settle {
					delete(touched, path)
					in.adopt(path)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.Log.WithError(err).Warn("inbox watcher")
		}
	}
}

func (in *Inbox) adopt(path string) {
	if !store.IsPDF(path) {
		return
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return
	}
	log := in.Log.WithField("file", filepath.Base(path))

	md5sum, err := digest.MD5File(in.Store.Fs(), path)
	if err != nil {
		log.WithError(err).Warn("inbox file not hashed")
		return
	}
	name, err := in.Store.Adopt(path)
	if err != nil {
		log.WithError(err).Warn("inbox file not adopted")
		return
	}
	if err := in.Submit.Submit(name, md5sum); err != nil {
		log.WithError(err).Error("inbox file not queued")
		return
	}
	log.Info("queued from inbox")
}
