package statistics

import (
	"os"
	"path/filepath"
	"time"
)

// FileSystem is the whole-file I/O the store needs.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// OSFileSystem writes through a temporary file in the target directory and
// renames it over the destination, so readers never observe a partial file.
type OSFileSystem struct {
	Perm os.FileMode // defaults to 0o640
}

func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Clean(path))
}

func (f OSFileSystem) WriteFile(path string, data []byte) error {
	path = filepath.Clean(path)
	perm := f.Perm
	if perm == 0 {
		perm = 0o640
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Clock supplies the current time. Readings returned by time.Now carry a
// monotonic component, which the write throttle relies on.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
