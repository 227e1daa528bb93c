package sqlite

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	md5 TEXT NOT NULL,
	status TEXT NOT NULL,
	pages INTEGER NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created TIMESTAMP NOT NULL,
	updated TIMESTAMP NOT NULL
)`

type Storage struct {
	db *sqlx.DB
}

func New(path string) (s Storage, err error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return s, errors.Wrapf(err, "open %s", path)
	}

	// sqlite takes one writer at a time
	db.SetMaxOpenConns(1)

	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return s, errors.Wrap(err, "create schema")
	}

	return Storage{
		db: db,
	}, nil
}
