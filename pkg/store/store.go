package store

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	UploadsDir = "uploads"
	ResultsDir = "results"
)

var (
	ErrNotPDF      = errors.New("only .pdf files are accepted")
	ErrInvalidName = errors.New("invalid file name")
)

// Store lays out uploaded PDFs and recognized text under a single root.
type Store struct {
	fs   afero.Fs
	root string
}

// Result is a finished text file offered for download.
type Result struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// New prepares the uploads and results directories below root on the OS filesystem.
func New(root string) (*Store, error) {
	return NewFs(afero.NewOsFs(), root)
}

func NewFs(fs afero.Fs, root string) (*Store, error) {
	for _, dir := range []string{UploadsDir, ResultsDir} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	return &Store{fs: fs, root: root}, nil
}

func (s *Store) Fs() afero.Fs { return s.fs }

// cleanName strips any directory from an uploaded name. Hidden names are
// refused since their results would be hidden too.
func cleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "/" || strings.HasPrefix(base, ".") || strings.TrimSpace(base) == "" {
		return "", ErrInvalidName
	}
	return base, nil
}

func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func (s *Store) UploadPath(name string) string {
	return filepath.Join(s.root, UploadsDir, name)
}

// ResultName is the text file name produced for an uploaded PDF.
func ResultName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".txt"
}

func (s *Store) ResultPath(name string) string {
	return filepath.Join(s.root, ResultsDir, ResultName(name))
}

// SaveUpload writes r to the uploads directory, replacing a file of the same
// name, and returns the stored base name.
func (s *Store) SaveUpload(name string, r io.Reader) (stored string, err error) {
	stored, err = cleanName(name)
	if err != nil {
		return "", err
	}
	if !IsPDF(stored) {
		return "", ErrNotPDF
	}

	dst := s.UploadPath(stored)
	tmp, err := afero.TempFile(s.fs, filepath.Dir(dst), ".upload-")
	if err != nil {
		return "", errors.Wrap(err, "create upload")
	}
	defer s.fs.Remove(tmp.Name())

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "write upload %s", stored)
	}
	if err = tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "close upload %s", stored)
	}
	if err = s.fs.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrapf(err, "store upload %s", stored)
	}
	return stored, nil
}

// Adopt moves a file from elsewhere into uploads. Across mounts the file is
// copied and the source removed.
func (s *Store) Adopt(src string) (stored string, err error) {
	stored, err = cleanName(src)
	if err != nil {
		return "", err
	}
	if !IsPDF(stored) {
		return "", ErrNotPDF
	}
	err = s.fs.Rename(src, s.UploadPath(stored))
	if errors.Is(err, syscall.EXDEV) {
		return s.copyIn(src)
	}
	if err != nil {
		return "", errors.Wrapf(err, "move %s", src)
	}
	return stored, nil
}

func (s *Store) copyIn(src string) (stored string, err error) {
	f, err := s.fs.Open(src)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", src)
	}
	stored, err = s.SaveUpload(src, f)
	f.Close()
	if err != nil {
		return "", err
	}
	if err = s.fs.Remove(src); err != nil {
		return "", errors.Wrapf(err, "remove %s", src)
	}
	return
}

func (s *Store) WriteResult(name, text string) (err error) {
	dst := s.ResultPath(name)
	err = afero.WriteFile(s.fs, dst, []byte(text), 0644)
	if err != nil {
		return errors.Wrapf(err, "write result %s", dst)
	}
	return
}

// Results lists finished text files, most recently written first.
func (s *Store) Results() (rr []Result, err error) {
	infos, err := afero.ReadDir(s.fs, filepath.Join(s.root, ResultsDir))
	if err != nil {
		return nil, errors.Wrap(err, "list results")
	}
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		rr = append(rr, Result{Name: fi.Name(), Size: fi.Size(), Modified: fi.ModTime()})
	}
	sort.SliceStable(rr, func(i, j int) bool {
		if rr[i].Modified.Equal(rr[j].Modified) {
			return rr[i].Name < rr[j].Name
		}
		return rr[i].Modified.After(rr[j].Modified)
	})
	return
}

// OpenResult opens a result file by base name.
func (s *Store) OpenResult(name string) (afero.File, os.FileInfo, error) {
	base, err := cleanName(name)
	if err != nil || base != name {
		return nil, nil, ErrInvalidName
	}
	p := filepath.Join(s.root, ResultsDir, base)
	fi, err := s.fs.Stat(p)
	if err != nil {
		return nil, nil, err
	}
	if fi.IsDir() {
		return nil, nil, ErrInvalidName
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, nil, err
	}
	return f, fi, nil
}
