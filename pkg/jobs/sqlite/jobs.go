package sqlite

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/ushtipak/pdfocr/pkg/jobs"
)

var _ jobs.Storage = Storage{}

const columns = "id, name, md5, status, pages, progress, error, created, updated"

func (s Storage) Add(name, md5sum string) (j jobs.Job, err error) {
	now := time.Now().UTC()
	j = jobs.Job{
		ID:      uuid.New().String(),
		Name:    name,
		MD5:     md5sum,
		Status:  jobs.Queued,
		Created: now,
		Updated: now,
	}

	_, err = s.db.NamedExec("INSERT INTO jobs ("+columns+") VALUES (:id, :name, :md5, :status, :pages, :progress, :error, :created, :updated)", j)
	if err != nil {
		return jobs.Job{}, errors.Wrapf(err, "insert job %s", name)
	}
	return
}

func (s Storage) SetStatus(id string, status jobs.Status, errMsg string) (err error) {
	res, err := s.db.Exec("UPDATE jobs SET status = ?, error = ?, updated = ? WHERE id = ?", status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	return expectOne(res.RowsAffected())
}

func (s Storage) SetProgress(id string, pages, progress int) (err error) {
	res, err := s.db.Exec("UPDATE jobs SET pages = ?, progress = ?, updated = ? WHERE id = ?", pages, progress, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	return expectOne(res.RowsAffected())
}

func (s Storage) Pending() (jj []jobs.Job, err error) {
	err = s.db.Select(&jj, "SELECT "+columns+" FROM jobs WHERE status IN (?, ?) ORDER BY seq", jobs.Queued, jobs.Processing)
	if err != nil {
		return nil, errors.Wrap(err, "select pending jobs")
	}
	return
}

func (s Storage) Jobs() (jj []jobs.Job, err error) {
	err = s.db.Select(&jj, "SELECT "+columns+" FROM jobs ORDER BY seq DESC")
	if err != nil {
		return nil, errors.Wrap(err, "select jobs")
	}
	return
}

func (s Storage) Close() (err error) {
	return s.db.Close()
}

var ErrNotFound = errors.New("job not found")

func expectOne(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
