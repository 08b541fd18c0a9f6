package pipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// RequestsName is the well-known registration FIFO inside the server root.
const RequestsName = "REQUESTS"

const fifoMode = 0o666

// mkfifo creates a FIFO at path. An existing entry is left alone: client
// and worker both create the session pair and either may win.
func mkfifo(path string) error {
	if err := unix.Mkfifo(path, fifoMode); err != nil && !errors.Is(err, unix.EEXIST) {
		return &os.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// removeFIFO removes path if it is still a FIFO. A missing entry is not an
// error.
func removeFIFO(path string) error {
	if !isFIFO(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// isFIFO reports whether path exists and is a named pipe.
func isFIFO(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeNamedPipe != 0
}

// waitForFile blocks until name appears in dir or ctx ends.
func waitForFile(ctx context.Context, dir, name string) error {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	// The file may have appeared between the first check and Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			if filepath.Base(event.Name) == name && event.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}
