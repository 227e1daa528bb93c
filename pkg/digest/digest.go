package digest

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// MD5 hashes everything read from r.
func MD5(r io.Reader) (md5sum string, err error) {
	h := md5.New()
	_, err = io.Copy(h, r)
	if err != nil {
		return "", errors.Wrap(err, "hash")
	}

	md5sum = hex.EncodeToString(h.Sum(nil))
	return
}

func MD5File(fs afero.Fs, fileName string) (md5sum string, err error) {
	f, err := fs.Open(fileName)
	if err != nil {
		return
	}

	md5sum, err = MD5(f)
	if err != nil {
		f.Close()
		return
	}

	err = f.Close()
	return
}
