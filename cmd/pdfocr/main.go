package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/ushtipak/pdfocr/pkg/jobs/sqlite"
	"github.com/ushtipak/pdfocr/pkg/metrics"
	"github.com/ushtipak/pdfocr/pkg/ocr"
	"github.com/ushtipak/pdfocr/pkg/pdf"
	"github.com/ushtipak/pdfocr/pkg/queue"
	"github.com/ushtipak/pdfocr/pkg/store"
	"github.com/ushtipak/pdfocr/pkg/watch"
	"github.com/ushtipak/pdfocr/pkg/web"
	"github.com/ushtipak/pdfocr/pkg/worker"
)

const cfgFile = "/etc/pdfocr/pdfocr.yml"

var flags = []cli.Flag{
	&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: cfgFile, EnvVars: []string{"PDFOCR_CONFIG"}, Usage: "YAML config file"},
	&cli.StringFlag{Name: "listen", EnvVars: []string{"PDFOCR_LISTEN"}, Usage: "HTTP listen address"},
	&cli.StringFlag{Name: "data", EnvVars: []string{"PDFOCR_DATA"}, Usage: "directory holding uploads/ and results/"},
	&cli.StringFlag{Name: "inbox", EnvVars: []string{"PDFOCR_INBOX"}, Usage: "directory watched for PDFs to queue"},
	&cli.StringFlag{Name: "state", EnvVars: []string{"PDFOCR_STATE"}, Usage: "sqlite job database"},
	&cli.StringSliceFlag{Name: "lang", EnvVars: []string{"PDFOCR_LANG"}, Usage: "tesseract languages"},
	&cli.StringFlag{Name: "tessdata", EnvVars: []string{"TESSDATA_PREFIX"}, Usage: "tesseract trained data directory"},
	&cli.IntFlag{Name: "dpi", EnvVars: []string{"PDFOCR_DPI"}, Usage: "page render resolution"},
	&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Usage: "debug, info, warn or error"},
}

// configure loads the config file and lets flags and environment override it.
func configure(c *cli.Context) (cfg Config, err error) {
	cfg, err = loadConfig(c.String("config"), c.IsSet("config"))
	if err != nil {
		return
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("data") {
		cfg.Root.Data = c.String("data")
	}
	if c.IsSet("inbox") {
		cfg.Root.Inbox = c.String("inbox")
	}
	if c.IsSet("state") {
		cfg.State = c.String("state")
	}
	if c.IsSet("lang") {
		cfg.OCR.Languages = c.StringSlice("lang")
	}
	if c.IsSet("tessdata") {
		cfg.OCR.Tessdata = c.String("tessdata")
	}
	if c.IsSet("dpi") {
		cfg.Render.DPI = c.Int("dpi")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		log.Warnf("unknown log level [%s], using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func run(c *cli.Context) error {
	cfg, err := configure(c)
	if err != nil {
		log.Fatalf("main | configure [%s]", err)
	}
	setupLogging(cfg.LogLevel)

	files, err := store.New(cfg.Root.Data)
	if err != nil {
		log.Fatalf("main | store.New [%s]", err)
	}

	// one worker per data directory
	lock := flock.New(filepath.Join(cfg.Root.Data, ".pdfocr.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("main | lock.TryLock [%s]", err)
	}
	if !locked {
		log.Fatalf("data dir [%s] is in use by another instance", cfg.Root.Data)
	}
	defer lock.Unlock()

	log.Debugln("state init")
	storage, err := sqlite.New(cfg.statePath())
	if err != nil {
		log.Fatalf("main | sqlite.New [%s]", err)
	}
	defer func() {
		log.Debugln("state close")
		if err := storage.Close(); err != nil {
			log.Errorf("main | storage.Close [%s]", err)
		}
	}()

	tess := ocr.NewTesseract(cfg.OCR.Languages, cfg.OCR.Tessdata, cfg.OCR.PSM)
	defer tess.Close()

	raster := pdf.NewRasterizer(cfg.Render.Command, cfg.Render.DPI)
	raster.Debug = log.IsLevelEnabled(log.DebugLevel)

	m := metrics.New()
	q := queue.New()
	tracker := &queue.Tracker{}
	w := &worker.Worker{
		Queue:      q,
		Tracker:    tracker,
		Store:      files,
		Jobs:       storage,
		PageCount:  pdf.PageCount,
		Rasterizer: raster,
		Recognizer: tess,
		Metrics:    m,
		Log:        log.StandardLogger(),
	}

	recovered, err := w.Recover()
	if err != nil {
		log.Fatalf("main | worker.Recover [%s]", err)
	}
	log.Infof("jobs recovered [%d]", recovered)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Run(ctx); err != nil {
			log.Errorf("main | worker.Run [%s]", err)
		}
	}()

	if cfg.Root.Inbox != "" {
		inbox := &watch.Inbox{Dir: cfg.Root.Inbox, Store: files, Submit: w, Log: log.StandardLogger()}
		go func() {
			if err := inbox.Run(ctx); err != nil {
				log.Errorf("main | inbox.Run [%s]", err)
			}
		}()
		log.Infof("watching inbox [%s]", cfg.Root.Inbox)
	}

	srv, err := web.NewServer(web.ServerParams{
		Store:       files,
		Queue:       q,
		Tracker:     tracker,
		Jobs:        storage,
		Submit:      w,
		Metrics:     m,
		Log:         log.StandardLogger(),
		UploadRate:  cfg.Upload.Rate,
		UploadBurst: cfg.Upload.Burst,
	})
	if err != nil {
		log.Fatalf("main | web.NewServer [%s]", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.InitRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("main | httpServer.Shutdown [%s]", err)
		}
	}()

	log.Infof("listening [%s]", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("main | ListenAndServe [%s]", err)
		stop()
	}

	<-workerDone
	return nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "pdfocr",
		Usage:  "queue uploaded PDFs through OCR and serve the recognized text",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
