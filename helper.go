// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import "errors"

// Errors
var (
	// ErrLocatorFailed is returned when the package name could not be
	// resolved to an on-disk archive path via /proc/self/maps.
	ErrLocatorFailed = errors.New("apkverify: package not found in /proc/self/maps")

	// ErrArchiveIO is returned when opening, reading or seeking the
	// archive file fails.
	ErrArchiveIO = errors.New("apkverify: archive I/O failed")

	// ErrEOCDNotFound is returned when no end-of-central-directory
	// signature is found within the trailing 8 KiB window of the archive.
	ErrEOCDNotFound = errors.New("apkverify: end of central directory not found")

	// ErrCentralDirectorySignature names a central directory entry without
	// the 0x02014b50 signature. findCertificateEntry does not return it: it
	// treats such an entry as the end of the directory.
	ErrCentralDirectorySignature = errors.New("apkverify: central directory signature mismatch")

	// ErrLocalHeaderSignature is returned when a local file header lacks
	// the 0x04034b50 signature.
	ErrLocalHeaderSignature = errors.New("apkverify: local file header signature mismatch")

	// ErrCertificateEntryNotFound is returned when no META-INF/*.RSA or
	// META-INF/*.DSA entry exists in the central directory.
	ErrCertificateEntryNotFound = errors.New("apkverify: no certificate entry in central directory")

	// ErrUnsupportedCompression is returned when a ZIP entry's
	// compression method is neither stored (0) nor deflate (8).
	ErrUnsupportedCompression = errors.New("apkverify: unsupported compression method")

	// ErrSigningBlockMagicNotFound is returned when the "APK Sig Block 42"
	// magic cannot be located before the central directory offset.
	ErrSigningBlockMagicNotFound = errors.New("apkverify: APK signing block magic not found")

	// ErrSigningBlockTooLarge is returned when the declared signing block
	// size exceeds Options.MaxSigningBlockSize.
	ErrSigningBlockTooLarge = errors.New("apkverify: APK signing block exceeds size cap")

	// ErrSigningBlockSchemeNotFound is returned when no v2/v3 scheme pair
	// (id 0x7109871a or 0xf05368c0) is present in the signing block.
	ErrSigningBlockSchemeNotFound = errors.New("apkverify: no v2/v3 signature scheme block found")

	// ErrSigningBlockTruncated is returned when a pair's declared size
	// runs past the end of the signing block payload.
	ErrSigningBlockTruncated = errors.New("apkverify: APK signing block truncated")

	// ErrDeflateMalformed is returned for any malformed DEFLATE bitstream:
	// invalid Huffman code-length table, invalid distance/length symbol,
	// a distance pointing before the start of output, reserved block type
	// 3, or an unexpected end of input.
	ErrDeflateMalformed = errors.New("apkverify: malformed deflate stream")

	// ErrDeflateOverflow is returned when the inflater would write past
	// the caller-declared uncompressed size.
	ErrDeflateOverflow = errors.New("apkverify: deflate output exceeds declared size")

	// ErrInflatedSizeMismatch is returned when an inflated entry's length
	// does not match the uncompressed size declared in its ZIP header.
	ErrInflatedSizeMismatch = errors.New("apkverify: inflated size does not match declared size")

	// ErrASN1Malformed is returned when the DER structure of a PKCS#7
	// SignedData blob does not match the expected shape.
	ErrASN1Malformed = errors.New("apkverify: malformed ASN.1/PKCS#7 structure")

	// ErrASN1LengthTooLong is returned when a DER length's long-form
	// encoding uses more than 4 follow-on bytes.
	ErrASN1LengthTooLong = errors.New("apkverify: ASN.1 length encoding too long")

	// ErrCertificateNotFound is returned when no certificates element is
	// present in the parsed PKCS#7 structure.
	ErrCertificateNotFound = errors.New("apkverify: no certificate found in PKCS#7 structure")

	// ErrCertificateTooLarge is returned when the extracted certificate
	// exceeds Options.CertBufferSize.
	ErrCertificateTooLarge = errors.New("apkverify: certificate exceeds buffer capacity")
)

// readLE16 decodes a little-endian uint16 at the start of b.
func readLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// readLE32 decodes a little-endian uint32 at the start of b.
func readLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// readLE64 decodes a little-endian uint64 at the start of b.
func readLE64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// hexEncode renders src as a lowercase hex string without using
// encoding/hex, mirroring the original's convertToHex.
func hexEncode(src []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(src)*2)
	for i, b := range src {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0x0f]
	}
	return string(out)
}

// indexSubstring reports the byte offset of sub within s, or -1, without
// calling into strings.Index/bytes.Index — the hot path for archive entry
// names and /proc/self/maps lines stays off anything hookable at the libc
// boundary.
func indexSubstring(s, sub []byte) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		j := 0
		for ; j < m; j++ {
			if s[i+j] != sub[j] {
				break
			}
		}
		if j == m {
			return i
		}
	}
	return -1
}

// containsSubstring reports whether sub occurs anywhere in s.
func containsSubstring(s, sub []byte) bool {
	return indexSubstring(s, sub) >= 0
}

// hasSuffix reports whether s ends with suffix, byte-for-byte.
func hasSuffix(s, suffix []byte) bool {
	if len(suffix) > len(s) {
		return false
	}
	return bytesEqual(s[len(s)-len(suffix):], suffix)
}

// hasSuffixFold reports whether s ends with suffix under ASCII
// case-insensitive comparison.
func hasSuffixFold(s, suffix []byte) bool {
	if len(suffix) > len(s) {
		return false
	}
	off := len(s) - len(suffix)
	for i := range suffix {
		if toLower(s[off+i]) != toLower(suffix[i]) {
			return false
		}
	}
	return true
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// splitFields splits s on runs of ASCII spaces, mirroring the original's
// my_strtok call with a single-space delimiter — strtok treats consecutive
// delimiters as one, which matters here since /proc/self/maps pads several
// of its columns with more than one space.
func splitFields(s []byte) [][]byte {
	var fields [][]byte
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			fields = append(fields, s[start:i])
			start = -1
		}
	}
	return fields
}

// dupBytes returns a fresh copy of b, the Go analogue of my_strdup.
func dupBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
