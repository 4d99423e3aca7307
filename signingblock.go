// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"fmt"

	"github.com/pinlock/apkverify/log"
)

const (
	apkSigBlockMagic    = "APK Sig Block 42"
	apkSigBlockMagicLen = 16
	apkSigV2SchemeID    = 0x7109871a
	apkSigV3SchemeID    = 0xf05368c0
)

// locateSigningBlock scans up to eocdScanWindow bytes ending at
// centralDirOffset for the 16-byte "APK Sig Block 42" magic, returning the
// absolute offset at which the magic begins.
//
// Deviation from the original: apksigningblock_helper.cpp's
// parseAPKSigningBlock reads each pair as (u32 id, u64 size), but the real
// APK Signing Block format uses (u64 size, u32 id). That field-order bug in
// the C++ source is not reproduced here; see parseSigningBlockPairs below.
func locateSigningBlock(a *archive, centralDirOffset int64, log *log.Helper) (int64, error) {
	windowSize := int64(eocdScanWindow)
	searchOffset := centralDirOffset - windowSize
	if searchOffset < 0 {
		searchOffset = 0
	}

	buf := make([]byte, centralDirOffset-searchOffset)
	n, err := a.readAtMost(buf, searchOffset)
	if err != nil {
		return 0, err
	}
	buf = buf[:n]

	magic := []byte(apkSigBlockMagic)
	for i := n - apkSigBlockMagicLen; i >= 0; i-- {
		if bytesEqual(buf[i:i+apkSigBlockMagicLen], magic) {
			blockOffset := searchOffset + int64(i)
			log.Debugf("found APK Signing Block magic at offset %d", blockOffset)
			return blockOffset, nil
		}
	}

	return 0, ErrSigningBlockMagicNotFound
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// readSigningBlock reads the size-prefixed payload of the APK Signing
// Block whose magic starts at magicOffset, per the layout:
//
//	[u64 leading size][pairs][u64 trailing size][16-byte magic]
//
// The trailing size field sits at magicOffset-8 and repeats the block's
// total size excluding the leading 8-byte size field, i.e. it equals
// len(pairs) + 8 (the trailing size field itself) + 16 (the magic). The
// pairs therefore begin at magicOffset + apkSigBlockMagicLen - blockSize:
// magicOffset + 16 lands immediately after the magic (the central
// directory offset), and backing off blockSize bytes from there reaches
// the start of pairs, since blockSize = len(pairs) + 8 + 16.
func readSigningBlock(a *archive, magicOffset int64, maxSize int64, log *log.Helper) ([]byte, error) {
	sizeBuf := make([]byte, 8)
	if err := a.readAt(sizeBuf, magicOffset-8); err != nil {
		return nil, err
	}
	blockSize := int64(readLE64(sizeBuf))

	if blockSize <= 0 || blockSize > maxSize {
		return nil, ErrSigningBlockTooLarge
	}

	log.Debugf("APK Signing Block size = %d bytes", blockSize)

	payloadOffset := magicOffset + apkSigBlockMagicLen - blockSize
	if payloadOffset < 0 {
		return nil, ErrSigningBlockTruncated
	}

	payload := make([]byte, blockSize)
	if err := a.readAt(payload, payloadOffset); err != nil {
		return nil, err
	}
	return payload, nil
}

// parseSigningBlockPairs walks the (u64 size, u32 id, payload) records of a
// signing block payload and returns the bytes of the first v2 or v3 scheme
// pair (id 0x7109871a or 0xf05368c0), which share a layout for the purposes
// of certificate extraction.
func parseSigningBlockPairs(payload []byte) ([]byte, error) {
	pos := 0
	for pos+12 <= len(payload) {
		pairSize := int64(readLE64(payload[pos:]))
		if pairSize < 4 {
			return nil, ErrSigningBlockTruncated
		}
		id := readLE32(payload[pos+8:])

		valueStart := pos + 12
		valueLen := int(pairSize) - 4
		if valueLen < 0 || valueStart+valueLen > len(payload) {
			return nil, ErrSigningBlockTruncated
		}

		if id == apkSigV2SchemeID || id == apkSigV3SchemeID {
			return payload[valueStart : valueStart+valueLen], nil
		}

		pos += 8 + int(pairSize)
	}

	return nil, ErrSigningBlockSchemeNotFound
}

// extractFirstCertificateFromV2Scheme walks a v2/v3 scheme block's first
// signer down to its first certificate, per the Android v2 signature
// scheme's length-prefixed nesting:
//
//	signers-sequence-length (u32)
//	  signed-data-length (u32)
//	    digests-length (u32), skipped
//	    certificates-length (u32)
//	      first-certificate-length (u32)
//	      first-certificate DER bytes
func extractFirstCertificateFromV2Scheme(scheme []byte) ([]byte, error) {
	r := scheme

	// signers sequence length — describes the remainder, not consumed
	// further since only the first signer is visited.
	if len(r) < 4 {
		return nil, ErrASN1Malformed
	}
	r = r[4:]

	if len(r) < 4 {
		return nil, ErrASN1Malformed
	}
	signedDataSize := readLE32(r)
	r = r[4:]
	if uint64(signedDataSize) > uint64(len(r)) {
		return nil, ErrASN1Malformed
	}
	signedData := r[:signedDataSize]

	if len(signedData) < 4 {
		return nil, ErrASN1Malformed
	}
	digestsSize := readLE32(signedData)
	signedData = signedData[4:]
	if uint64(digestsSize) > uint64(len(signedData)) {
		return nil, ErrASN1Malformed
	}
	signedData = signedData[digestsSize:]

	if len(signedData) < 4 {
		return nil, ErrASN1Malformed
	}
	// certificates sequence total length, not needed beyond validating
	// there is room for at least one certificate entry.
	signedData = signedData[4:]

	if len(signedData) < 4 {
		return nil, ErrASN1Malformed
	}
	certSize := readLE32(signedData)
	signedData = signedData[4:]
	if uint64(certSize) > uint64(len(signedData)) {
		return nil, ErrASN1Malformed
	}

	return dupBytes(signedData[:certSize]), nil
}

// parseSigningBlock is the C6 entry point: locate, read and walk the APK
// Signing Block, returning the first certificate's DER bytes from the
// first v2/v3 signer.
func parseSigningBlock(a *archive, centralDirOffset int64, maxSize int64, log *log.Helper) ([]byte, error) {
	magicOffset, err := locateSigningBlock(a, centralDirOffset, log)
	if err != nil {
		return nil, err
	}

	payload, err := readSigningBlock(a, magicOffset, maxSize, log)
	if err != nil {
		return nil, err
	}

	scheme, err := parseSigningBlockPairs(payload)
	if err != nil {
		return nil, err
	}

	cert, err := extractFirstCertificateFromV2Scheme(scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: v2/v3 scheme payload: %v", ErrASN1Malformed, err)
	}
	log.Infof("extracted %d-byte certificate from v2/v3 signing block", len(cert))
	return cert, nil
}
