// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"fmt"

	"github.com/pinlock/apkverify/log"
)

const (
	eocdSignature              = 0x06054b50
	centralDirectorySignature  = 0x02014b50
	localFileHeaderSignature   = 0x04034b50

	eocdMinSize          = 22
	centralDirHeaderSize = 46
	localFileHeaderSize  = 30
	eocdScanWindow       = 8192
)

// zipEntry describes one certificate-shaped candidate located in the
// central directory: its name, and where its local file header and payload
// live, grounded on findCertificateFile's (fileOffset, fileSize) pair.
type zipEntry struct {
	name              string
	localHeaderOffset int64
	uncompressedSize  uint32
}

// findEOCD scans the trailing eocdScanWindow bytes of the archive for the
// end-of-central-directory signature and returns its absolute offset. ZIP64
// archives (EOCD locator record) are out of scope, per SPEC_FULL.md's
// Non-goals.
func findEOCD(a *archive, log *log.Helper) (int64, error) {
	windowSize := int64(eocdScanWindow)
	if windowSize > a.size {
		windowSize = a.size
	}
	start := a.size - windowSize

	buf := make([]byte, windowSize)
	n, err := a.readAtMost(buf, start)
	if err != nil {
		return 0, err
	}
	buf = buf[:n]

	for i := n - eocdMinSize; i >= 0; i-- {
		if readLE32(buf[i:]) == eocdSignature {
			log.Debugf("found EOCD signature at offset %d", start+int64(i))
			return start + int64(i), nil
		}
	}

	return 0, ErrEOCDNotFound
}

// centralDirectoryOffset reads the 4-byte central directory start offset
// out of an already-located EOCD record.
func centralDirectoryOffset(a *archive, eocdOffset int64) (int64, error) {
	buf := make([]byte, eocdMinSize)
	if err := a.readAt(buf, eocdOffset); err != nil {
		return 0, err
	}
	return int64(readLE32(buf[16:])), nil
}

// findCertificateEntry walks the central directory starting at
// centralDirOffset looking for the first META-INF/*.RSA or META-INF/*.DSA
// entry, matching the JAR signing convention
// (github.com/akavel/apksigner's isSpecialIgnored inverse: we're hunting
// for the signature file, not skipping it).
func findCertificateEntry(a *archive, centralDirOffset int64, log *log.Helper) (*zipEntry, error) {
	log.Debugf("scanning central directory at offset %d", centralDirOffset)

	offset := centralDirOffset
	header := make([]byte, centralDirHeaderSize)

	for {
		n, err := a.readAtMost(header, offset)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if n < centralDirHeaderSize {
			break
		}

		signature := readLE32(header)
		if signature != centralDirectorySignature {
			break
		}

		nameLen := int(readLE16(header[28:]))
		extraLen := int(readLE16(header[30:]))
		commentLen := int(readLE16(header[32:]))
		uncompressedSize := readLE32(header[24:])
		localHeaderOffset := int64(readLE32(header[42:]))

		nameBuf := make([]byte, nameLen)
		if err := a.readAt(nameBuf, offset+centralDirHeaderSize); err != nil {
			return nil, err
		}

		if isCertificateEntryName(nameBuf) {
			log.Infof("found certificate entry %q", string(nameBuf))
			return &zipEntry{
				name:              string(nameBuf),
				localHeaderOffset: localHeaderOffset,
				uncompressedSize:  uncompressedSize,
			}, nil
		}

		offset += int64(centralDirHeaderSize + nameLen + extraLen + commentLen)
	}

	return nil, ErrCertificateEntryNotFound
}

// isCertificateEntryName reports whether name looks like a JAR/APK v1
// signature block file: a name containing META-INF/ and containing .RSA or
// .DSA. The substring match is case-sensitive as stored — unlike the
// locator's .apk extension check, .EC and lowercase variants are
// deliberately not recognized (see the Open Question decision in DESIGN.md).
func isCertificateEntryName(name []byte) bool {
	if !containsSubstring(name, []byte("META-INF/")) {
		return false
	}
	return containsSubstring(name, []byte(".RSA")) || containsSubstring(name, []byte(".DSA"))
}

// readZipEntryData reads and, if necessary, inflates the payload of a
// located entry, validating its local file header and cross-checking the
// decompressed length against the central directory's declared size. The
// compressed size is taken from the local file header; an entry written
// with a data descriptor (general-purpose flag bit 3, sizes zeroed in the
// local header) is not supported and fails with a size error.
func readZipEntryData(a *archive, entry *zipEntry, log *log.Helper) ([]byte, error) {
	header := make([]byte, localFileHeaderSize)
	if err := a.readAt(header, entry.localHeaderOffset); err != nil {
		return nil, err
	}

	if readLE32(header) != localFileHeaderSignature {
		return nil, ErrLocalHeaderSignature
	}

	compressionMethod := readLE16(header[8:])
	compressedSize := readLE32(header[18:])
	nameLen := int(readLE16(header[26:]))
	extraLen := int(readLE16(header[28:]))

	log.Debugf("entry %q: method=%d compressedSize=%d uncompressedSize=%d",
		entry.name, compressionMethod, compressedSize, entry.uncompressedSize)

	dataOffset := entry.localHeaderOffset + localFileHeaderSize + int64(nameLen) + int64(extraLen)

	raw := make([]byte, compressedSize)
	if err := a.readAt(raw, dataOffset); err != nil {
		return nil, err
	}

	switch compressionMethod {
	case 0: // stored
		if uint32(len(raw)) != entry.uncompressedSize {
			return nil, ErrInflatedSizeMismatch
		}
		return raw, nil
	case 8: // deflate
		out, err := rawInflate(raw, int(entry.uncompressedSize))
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedCompression, compressionMethod)
	}
}
