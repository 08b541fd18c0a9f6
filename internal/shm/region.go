// Package shm provides named shared-memory regions and process-shared
// counting semaphores.
//
// A region is a regular file under a shared-memory directory (normally
// /dev/shm) mapped MAP_SHARED into every attached process. Semaphores are
// single int32 words living in their own regions.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultDir is where named objects live when no directory is configured.
const DefaultDir = "/dev/shm"

// Region is a mapped shared-memory object.
type Region struct {
	name string
	path string
	data []byte
}

// Create makes a fresh region of size bytes, replacing any object that
// already carries the name. The object is readable and writable by all
// users so unprivileged clients can attach.
func Create(dir, name string, size int) (*Region, error) {
	path := filepath.Join(dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unlink %s: %w", name, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	// The process umask may have stripped bits from the requested mode.
	if err := f.Chmod(0o666); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("truncate %s: %w", name, err)
	}
	return mapFile(f, name, path, size)
}

// Open attaches to an existing region created by Create.
func Open(dir, name string, size int) (*Region, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if fi.Size() < int64(size) {
		return nil, fmt.Errorf("open %s: object is %d bytes, want %d", name, fi.Size(), size)
	}
	return mapFile(f, name, path, size)
}

func mapFile(f *os.File, name, path string, size int) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", name, err)
	}
	return &Region{name: name, path: path, data: data}, nil
}

// Name returns the object name within its directory.
func (r *Region) Name() string {
	return r.name
}

// Path returns the filesystem path of the object.
func (r *Region) Path() string {
	return r.path
}

// Bytes returns the mapped memory. Writes are visible to every process
// attached to the same object.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the mapped length.
func (r *Region) Size() int {
	return len(r.data)
}

// Close unmaps the region. The object itself survives.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Remove unlinks the object name. Existing mappings stay valid.
func (r *Region) Remove() error {
	return os.Remove(r.path)
}
