package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ushtipak/pdfocr/pkg/digest"
	"github.com/ushtipak/pdfocr/pkg/jobs"
	"github.com/ushtipak/pdfocr/pkg/metrics"
	"github.com/ushtipak/pdfocr/pkg/queue"
	"github.com/ushtipak/pdfocr/pkg/store"
	"golang.org/x/time/rate"
)

//go:embed tmpl/*.html
var templates embed.FS

const maxUploadMemory = 32 << 20

// Submitter records and enqueues a stored upload.
type Submitter interface {
	Submit(name, md5sum string) error
}

type ServerParams struct {
	Store   *store.Store
	Queue   *queue.Queue
	Tracker *queue.Tracker
	Jobs    jobs.Storage
	Submit  Submitter
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
	// UploadRate limits upload requests per second; zero disables the limit.
	UploadRate  float64
	UploadBurst int
}

type Server struct {
	params  ServerParams
	tmpl    *template.Template
	limiter *rate.Limiter
}

func loadTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"resultURL": func(name string) string {
			return "/results/" + url.PathEscape(name)
		},
		"formatTimestamp": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04:05")
		},
	}
	return template.New("").Funcs(funcMap).ParseFS(templates, "tmpl/*.html")
}

func NewServer(params ServerParams) (*Server, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "load templates")
	}
	if params.Log == nil {
		params.Log = logrus.StandardLogger()
	}
	s := &Server{params: params, tmpl: tmpl}
	if params.UploadRate > 0 {
		burst := params.UploadBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(params.UploadRate), burst)
	}
	return s, nil
}

// Status is the polled view of the pipeline.
type Status struct {
	Processing string         `json:"processing"`
	Progress   int            `json:"progress"`
	Queue      []string       `json:"queue"`
	Results    []store.Result `json:"results"`
}

func (s *Server) status() (st Status, err error) {
	st.Processing, st.Progress = s.params.Tracker.Current()
	st.Queue = s.params.Queue.List()
	st.Results, err = s.params.Store.Results()
	if st.Results == nil {
		st.Results = []store.Result{}
	}
	return
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.params.Log.WithError(err).Warn("encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.params.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	if wantsJSON(r) {
		s.writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	http.Error(w, err.Error(), code)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

/* handlers */

func (s *Server) HandleHome() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.status()
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		processing := ""
		if st.Processing != "" {
			processing = st.Processing + " " + strconv.Itoa(st.Progress) + "%"
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = s.tmpl.ExecuteTemplate(w, "index.html", struct {
			Processing string
			Queue      []string
			Results    []store.Result
			UploadURL  string
			StatusURL  string
		}{
			Processing: processing,
			Queue:      st.Queue,
			Results:    st.Results,
			UploadURL:  "/upload",
			StatusURL:  "/status",
		})
		if err != nil {
			s.params.Log.WithError(err).Error("render index")
		}
	}
}

func (s *Server) HandleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.status()
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) HandleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			s.fail(w, r, http.StatusBadRequest, errors.Wrap(err, "parse upload"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := r.MultipartForm.File["files"]
		if len(files) == 0 {
			s.fail(w, r, http.StatusBadRequest, errors.New("no files uploaded"))
			return
		}
		for _, fh := range files {
			if !store.IsPDF(fh.Filename) {
				s.fail(w, r, http.StatusBadRequest, errors.Wrapf(store.ErrNotPDF, "%s", fh.Filename))
				return
			}
		}

		queued := make([]string, 0, len(files))
		for _, fh := range files {
			name, err := s.save(fh)
			if errors.Is(err, store.ErrInvalidName) || errors.Is(err, store.ErrNotPDF) {
				s.fail(w, r, http.StatusBadRequest, err)
				return
			}
			if err != nil {
				s.fail(w, r, http.StatusInternalServerError, err)
				return
			}
			queued = append(queued, name)
			s.params.Log.WithField("file", name).Info("upload queued")
		}

		if wantsJSON(r) {
			s.writeJSON(w, http.StatusAccepted, map[string][]string{"queued": queued})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *Server) save(fh *multipart.FileHeader) (name string, err error) {
	f, err := fh.Open()
	if err != nil {
		return "", errors.Wrapf(err, "open upload %s", fh.Filename)
	}
	defer f.Close()

	name, err = s.params.Store.SaveUpload(fh.Filename, f)
	if err != nil {
		return "", err
	}
	md5sum, err := digest.MD5File(s.params.Store.Fs(), s.params.Store.UploadPath(name))
	if err != nil {
		return "", err
	}
	err = s.params.Submit.Submit(name, md5sum)
	return
}

func (s *Server) HandleDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		f, fi, err := s.params.Store.OpenResult(name)
		switch {
		case errors.Is(err, store.ErrInvalidName):
			s.fail(w, r, http.StatusBadRequest, err)
			return
		case os.IsNotExist(err):
			s.fail(w, r, http.StatusNotFound, errors.Errorf("no result %s", name))
			return
		case err != nil:
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(fi.Name()))
		http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	}
}

func (s *Server) HandleJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.params.Jobs == nil {
			s.writeJSON(w, http.StatusOK, []jobs.Job{})
			return
		}
		jj, err := s.params.Jobs.Jobs()
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		if jj == nil {
			jj = []jobs.Job{}
		}
		s.writeJSON(w, http.StatusOK, jj)
	}
}

/* middleware */

func (s *Server) limitUploads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.fail(w, r, http.StatusTooManyRequests, errors.New("too many uploads, retry shortly"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.params.Log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  ww.Status(),
			"bytes":   ww.BytesWritten(),
			"elapsed": time.Since(start),
			"request": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func InitRouter(srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(srv.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", srv.HandleHome())
	r.Get("/status", srv.HandleStatus())
	r.Get("/jobs", srv.HandleJobs())
	r.Get("/results/{name}", srv.HandleDownload())
	r.With(srv.limitUploads).Post("/upload", srv.HandleUpload())
	if srv.params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", srv.params.Metrics.Handler())
	}
	return r
}
