// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// archive is a single-owner, positioned-read handle over an opened file.
// It is the Go analogue of the original's (fd, size) pair in mylibc.cpp:
// every read goes through a raw pread(2) by offset rather than a stateful
// cursor maintained by a higher-level wrapper.
type archive struct {
	fd   int
	size int64
}

// openArchive opens path read-only via a direct syscall (golang.org/x/sys/
// unix.Open, not os.Open) and stats its size.
func openArchive(path string) (*archive, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchiveIO, path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: fstat %s: %v", ErrArchiveIO, path, err)
	}

	return &archive{fd: fd, size: st.Size}, nil
}

// close releases the underlying file descriptor. Safe to call once; callers
// must not use the archive afterward.
func (a *archive) close() error {
	if a.fd < 0 {
		return nil
	}
	err := unix.Close(a.fd)
	a.fd = -1
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrArchiveIO, err)
	}
	return nil
}

// readAt reads exactly len(buf) bytes starting at offset, via unix.Pread —
// a short read is treated as an I/O error.
func (a *archive) readAt(buf []byte, offset int64) error {
	n, err := unix.Pread(a.fd, buf, offset)
	if err != nil {
		return fmt.Errorf("%w: pread at %d: %v", ErrArchiveIO, offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at %d: got %d want %d", ErrArchiveIO, offset, n, len(buf))
	}
	return nil
}

// readAtMost reads up to len(buf) bytes starting at offset and returns the
// number actually read, tolerating a short read at end of file. Used by the
// EOCD and APK Signing Block locators, which scan a trailing window that may
// be smaller than the requested buffer for small archives.
func (a *archive) readAtMost(buf []byte, offset int64) (int, error) {
	n, err := unix.Pread(a.fd, buf, offset)
	if err != nil {
		return 0, fmt.Errorf("%w: pread at %d: %v", ErrArchiveIO, offset, err)
	}
	return n, nil
}

// openatPackageMaps opens /proc/self/maps via openat(2) relative to an
// already-open /proc/self directory descriptor, per C2's locator algorithm.
func openatPackageMaps() (int, error) {
	dirFd, err := unix.Open("/proc/self", unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: open /proc/self: %v", ErrLocatorFailed, err)
	}
	defer unix.Close(dirFd)

	fd, err := unix.Openat(dirFd, "maps", unix.O_RDONLY, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: openat maps: %v", ErrLocatorFailed, err)
	}
	return fd, nil
}
