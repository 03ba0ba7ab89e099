package txn

import (
	"os"

	"github.com/spf13/afero"

	"github.com/teranos/subman/errors"
)

const (
	tmpSuffix      = ".subman-tmp-"
	snapshotSuffix = ".subman-snapshot-"
)

// SnapshotPath is where the pre-transaction copy of path is kept while txID runs
func SnapshotPath(path, txID string) string { return path + snapshotSuffix + txID }

// writeFile replaces path with data through a synced temporary file and a
// rename, so readers see either the old or the new content
func writeFile(fs afero.Fs, path string, data []byte, mode os.FileMode, txID string) error {
	tmp := path + tmpSuffix + txID
	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", tmp)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
