// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapsChunkSize is the read granularity used while streaming
// /proc/self/maps, matching the original's BUFFER_SIZE.
const mapsChunkSize = 8192

// locateAPK finds the on-disk path of the currently mapped archive whose
// pathname contains packageName and ends (case-insensitively) in ".apk",
// by streaming /proc/self/maps in chunks and reassembling lines across
// chunk boundaries. The sixth whitespace-separated field of each line is
// the mapped pathname. First match wins.
func locateAPK(packageName string) (string, error) {
	fd, err := openatPackageMaps()
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)

	pkg := []byte(packageName)
	var pending []byte
	buf := make([]byte, mapsChunkSize)

	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			return "", fmt.Errorf("%w: read /proc/self/maps: %v", ErrLocatorFailed, err)
		}
		if n == 0 {
			break // EOF
		}

		chunk := buf[:n]
		for {
			nl := indexSubstring(chunk, []byte{'\n'})
			if nl < 0 {
				pending = append(pending, chunk...)
				break
			}

			line := chunk[:nl]
			if len(pending) > 0 {
				line = append(append([]byte{}, pending...), line...)
				pending = pending[:0]
			}

			if path, ok := matchMapsLine(line, pkg); ok {
				return string(path), nil
			}

			chunk = chunk[nl+1:]
		}
	}

	if len(pending) > 0 {
		if path, ok := matchMapsLine(pending, pkg); ok {
			return string(path), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrLocatorFailed, packageName)
}

// matchMapsLine inspects the sixth whitespace-separated field of a single
// /proc/self/maps line (the mapped pathname) and reports whether it both
// contains pkg and has a case-insensitive ".apk" extension.
func matchMapsLine(line, pkg []byte) ([]byte, bool) {
	fields := splitFields(line)
	if len(fields) < 6 {
		return nil, false
	}

	path := fields[5]
	if !containsSubstring(path, pkg) {
		return nil, false
	}
	if !hasSuffixFold(path, []byte(".apk")) {
		return nil, false
	}

	return dupBytes(path), true
}
