// Package control keeps a single live core per data directory and exposes a
// local control socket to stop it.
package control

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"golang.org/x/sys/unix"
)

// LockInfo is the content of the lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Token     string    `json:"token"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is an exclusive flock held on the lock file for the lifetime of the process.
type Lock struct {
	path string
	file *os.File
	info LockInfo
}

// Acquire takes the single-instance lock at path and writes a fresh control
// token into it. A lock held by another process returns ErrCodeLockHeld.
func Acquire(path, socket string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeControlFailed, "failed to create lock directory", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeControlFailed, "failed to open lock file", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder, _ := decodeLock(file)
		_ = file.Close()

		if stderrors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.Newf(errors.ErrCodeLockHeld, "another live core holds %s (pid %d)", path, holder.PID)
		}

		return nil, errors.Wrap(errors.ErrCodeControlFailed, "failed to lock "+path, err)
	}

	info := LockInfo{
		PID:       os.Getpid(),
		Token:     uuid.NewString(),
		Socket:    socket,
		StartedAt: time.Now().UTC(),
	}

	if err := writeLock(file, info); err != nil {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		_ = file.Close()

		return nil, err
	}

	return &Lock{path: path, file: file, info: info}, nil
}

func writeLock(file *os.File, info LockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to encode lock", err)
	}

	if err := file.Truncate(0); err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to truncate lock file", err)
	}

	if _, err := file.WriteAt(data, 0); err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to write lock file", err)
	}

	if err := file.Sync(); err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to sync lock file", err)
	}

	return nil
}

func decodeLock(r io.ReadSeeker) (LockInfo, error) {
	var info LockInfo

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return info, err
	}

	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return info, err
	}

	return info, nil
}

// Info returns the pid and token written into the lock file.
func (l *Lock) Info() LockInfo {
	return l.info
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file and drops the lock.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	removeErr := os.Remove(l.path)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err := stderrors.Join(removeErr, unlockErr, closeErr); err != nil {
		return errors.Wrap(errors.ErrCodeControlFailed, "failed to release lock", err)
	}

	return nil
}

// ReadLock reads the lock file written by a running live core.
func ReadLock(path string) (LockInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LockInfo{}, errors.Newf(errors.ErrCodeControlFailed, "no live core is running (%s not found)", path)
		}

		return LockInfo{}, errors.Wrap(errors.ErrCodeControlFailed, "failed to open lock file", err)
	}
	defer file.Close()

	info, err := decodeLock(file)
	if err != nil {
		return LockInfo{}, errors.Wrap(errors.ErrCodeControlFailed, "failed to decode lock file", err)
	}

	return info, nil
}
