package jobs

import "time"

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Done       Status = "done"
	Failed     Status = "failed"
)

// Job is the persisted record of one uploaded file passing through the pipeline.
type Job struct {
	ID       string    `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	MD5      string    `db:"md5" json:"md5"`
	Status   Status    `db:"status" json:"status"`
	Pages    int       `db:"pages" json:"pages"`
	Progress int       `db:"progress" json:"progress"`
	Error    string    `db:"error" json:"error,omitempty"`
	Created  time.Time `db:"created" json:"created"`
	Updated  time.Time `db:"updated" json:"updated"`
}

type Storage interface {
	Add(name, md5sum string) (Job, error)
	SetStatus(id string, status Status, errMsg string) error
	SetProgress(id string, pages, progress int) error
	// Pending returns queued and processing jobs, oldest first.
	Pending() ([]Job, error)
	// Jobs returns every job, newest first.
	Jobs() ([]Job, error)
	Close() error
}
