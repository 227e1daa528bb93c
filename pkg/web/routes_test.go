package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ushtipak/pdfocr/pkg/jobs"
	"github.com/ushtipak/pdfocr/pkg/metrics"
	"github.com/ushtipak/pdfocr/pkg/queue"
	"github.com/ushtipak/pdfocr/pkg/store"
)

type submitMock struct {
	mock.Mock
	q *queue.Queue
}

func (m *submitMock) Submit(name, md5sum string) error {
	args := m.Called(name, md5sum)
	if args.Error(0) == nil {
		m.q.Push(name)
	}
	return args.Error(0)
}

type fixture struct {
	store   *store.Store
	queue   *queue.Queue
	tracker *queue.Tracker
	submit  *submitMock
	handler http.Handler
}

func newFixture(t *testing.T, uploadRate float64) *fixture {
	t.Helper()
	st, err := store.NewFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	q := queue.New()
	f := &fixture{
		store:   st,
		queue:   q,
		tracker: &queue.Tracker{},
		submit:  &submitMock{q: q},
	}
	logger, _ := test.NewNullLogger()
	srv, err := NewServer(ServerParams{
		Store:       st,
		Queue:       q,
		Tracker:     f.tracker,
		Submit:      f.submit,
		Metrics:     metrics.New(),
		Log:         logger,
		UploadRate:  uploadRate,
		UploadBurst: 1,
	})
	require.NoError(t, err)
	f.handler = InitRouter(srv)
	return f
}

func uploadRequest(t *testing.T, files map[string]string, accept string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadQueuesFiles(t *testing.T) {
	f := newFixture(t, 0)
	f.submit.On("Submit", "book.pdf", "5d41402abc4b2a76b9719d911017c592").Return(nil)

	rec := f.do(uploadRequest(t, map[string]string{"book.pdf": "hello"}, ""))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	f.submit.AssertExpectations(t)
	assert.Equal(t, []string{"book.pdf"}, f.queue.List())
	data, err := afero.ReadFile(f.store.Fs(), f.store.UploadPath("book.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUploadJSON(t *testing.T) {
	f := newFixture(t, 0)
	f.submit.On("Submit", mock.Anything, mock.Anything).Return(nil)

	rec := f.do(uploadRequest(t, map[string]string{"a.pdf": "a"}, "application/json"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var out map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"a.pdf"}, out["queued"])
}

func TestUploadRejectsNonPDF(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(uploadRequest(t, map[string]string{"a.pdf": "a", "notes.txt": "x"}, "application/json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes.txt")
	assert.Empty(t, f.queue.List())
	f.submit.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestUploadRejectsHiddenName(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(uploadRequest(t, map[string]string{".report.pdf": "x"}, "application/json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.queue.List())
	f.submit.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestUploadWithoutFiles(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(uploadRequest(t, nil, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRateLimited(t *testing.T) {
	f := newFixture(t, 0.001)
	f.submit.On("Submit", mock.Anything, mock.Anything).Return(nil)

	assert.Equal(t, http.StatusSeeOther, f.do(uploadRequest(t, map[string]string{"a.pdf": "a"}, "")).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(uploadRequest(t, map[string]string{"b.pdf": "b"}, "")).Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 0)
	f.queue.Push("next.pdf")
	f.tracker.Start("now.pdf")
	f.tracker.Update(1, 4)
	require.NoError(t, f.store.WriteResult("done.pdf", "text"))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "now.pdf", st.Processing)
	assert.Equal(t, 25, st.Progress)
	assert.Equal(t, []string{"next.pdf"}, st.Queue)
	require.Len(t, st.Results, 1)
	assert.Equal(t, "done.txt", st.Results[0].Name)
}

func TestHomePage(t *testing.T) {
	f := newFixture(t, 0)
	f.queue.Push("one.pdf")
	f.queue.Push("two.pdf")
	f.tracker.Start("now.pdf")
	f.tracker.Update(1, 2)
	require.NoError(t, f.store.WriteResult("old.pdf", "old"))
	require.NoError(t, f.store.WriteResult("new book.pdf", "new"))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.store.Fs().Chtimes(f.store.ResultPath("old.pdf"), past, past))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)

	val, _ := doc.Find("#processing").Attr("value")
	assert.Equal(t, "now.pdf 50%", val)
	assert.Equal(t, "one.pdf\ntwo.pdf\n", doc.Find("#queue").Text())
	assert.Equal(t, 1, doc.Find(`form#upload input[type=file][name=files][multiple]`).Length())

	var links []string
	doc.Find("#results a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, href)
	})
	assert.Equal(t, []string{"/results/new%20book.txt", "/results/old.txt"}, links)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.store.WriteResult("book.pdf", "recognized"))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/results/book.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recognized", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))

	require.NoError(t, f.store.WriteResult("a%41.pdf", "percent"))
	rec = f.do(httptest.NewRequest(http.MethodGet, "/results/a%2541.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "percent", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/results/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/results/..%2Fuploads%2Fbook.pdf", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestJobsWithoutStorage(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jj []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jj))
	assert.Empty(t, jj)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pdfocr_queue_depth")
}
