//go:build !windows

package fsutil

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/logsort/internal/errors"
)

// OpenNoFollow opens a file with O_NOFOLLOW so a symlink planted at the final
// path component is refused instead of written through. O_CLOEXEC prevents FD
// leaks across exec.
//
// Note: O_NOFOLLOW only protects the final component.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink: " + path)
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, errors.NewNotFound(path)
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}
