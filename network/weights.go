package network

import (
	"bufio"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// WriteFileAtomic writes a weights file through write. The data goes to a
// uniquely named temporary file next to path which then replaces path, so a
// failed save never leaves a truncated weights file behind.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp := path + ".tmp-" + uuid.New().String()
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err = f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}
