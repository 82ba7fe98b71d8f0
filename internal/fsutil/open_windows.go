//go:build windows

package fsutil

import (
	"os"

	"github.com/hpungsan/logsort/internal/errors"
)

// OpenNoFollow opens a file.
// On Windows, O_NOFOLLOW is not available. Symlink creation needs elevated
// privileges there, and CopyFile still Lstat-checks the destination.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
