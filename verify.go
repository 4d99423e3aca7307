// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"fmt"

	"github.com/pinlock/apkverify/log"
)

// outcome is the internal, three-valued result verify produces: match,
// mismatch, or a distinguishable error. Verify/VerifyPackage collapse this
// to a bool at the public boundary, per spec.md §6/§7.
type outcome int

const (
	outcomeMismatch outcome = iota
	outcomeMatch
	outcomeError
)

// Verifier extracts and fingerprints the signing certificate embedded in
// an APK, and compares it against a caller-supplied expected hash.
// Verifier holds no mutable state between calls; every buffer a call
// allocates is scoped to that call.
type Verifier struct {
	opts   Options
	helper *log.Helper
}

// New constructs a Verifier. A nil opts is equivalent to new(Options): all
// tunables take their documented defaults.
func New(opts *Options) *Verifier {
	resolved := opts.withDefaults()
	return &Verifier{
		opts:   resolved,
		helper: log.NewHelper(resolved.Logger),
	}
}

// Verify opens apkPath directly and reports whether its first discovered
// signing certificate hashes to expectedHash. It returns false for every
// failure kind — locator, I/O, format, capacity, and mismatch are not
// distinguishable at this boundary, per spec.md §7.
func (v *Verifier) Verify(apkPath string, expectedHash []byte) bool {
	result, _ := v.verify(apkPath, expectedHash)
	return result == outcomeMatch
}

// VerifyPackage resolves packageName to an on-disk APK path via C2 (a scan
// of /proc/self/maps) before verifying it.
func (v *Verifier) VerifyPackage(packageName string, expectedHash []byte) bool {
	path, err := locateAPK(packageName)
	if err != nil {
		v.helper.Warnf("locate %q: %v", packageName, err)
		return false
	}
	return v.Verify(path, expectedHash)
}

// ExtractCertificate opens apkPath and returns the raw DER bytes of the
// first signing certificate found via the same v2/v3-then-v1 search Verify
// uses, without hashing or comparing. It exists for diagnostic tooling
// (cmd/apkverify's certinfo subcommand); Verify/VerifyPackage do not call
// it and remain the only match/no-match entry points.
func (v *Verifier) ExtractCertificate(apkPath string) ([]byte, error) {
	a, err := openArchive(apkPath)
	if err != nil {
		return nil, err
	}
	defer a.close()

	return v.extractCertificate(a)
}

// verify is the internal, error-transparent form of Verify: it returns the
// three-valued outcome together with the error behind an outcomeError.
func (v *Verifier) verify(apkPath string, expectedHash []byte) (outcome, error) {
	a, err := openArchive(apkPath)
	if err != nil {
		v.helper.Warnf("open %q: %v", apkPath, err)
		return outcomeError, err
	}
	defer a.close()

	cert, err := v.extractCertificate(a)
	if err != nil {
		v.helper.Warnf("extract certificate from %q: %v", apkPath, err)
		return outcomeError, err
	}

	if uint32(len(cert)) > v.opts.CertBufferSize {
		v.helper.Warnf("certificate %d bytes exceeds buffer cap %d", len(cert), v.opts.CertBufferSize)
		return outcomeError, ErrCertificateTooLarge
	}

	digest := sha256Bytes(cert)
	if !bytesEqual(digest, expectedHash) {
		v.helper.Infof("certificate digest mismatch for %q", apkPath)
		return outcomeMismatch, nil
	}

	v.helper.Infof("certificate digest matched for %q", apkPath)
	return outcomeMatch, nil
}

// extractCertificate runs C5→C6 first (the v2/v3 signing-block path); if
// no signing block is found or it cannot be parsed, it falls back to the
// v1/JAR path (C5 central-directory walk → C4 inflate → C7 PKCS#7 walk),
// matching the control flow spec.md §4.8/§2 prescribes exactly.
func (v *Verifier) extractCertificate(a *archive) ([]byte, error) {
	eocdOffset, err := findEOCD(a, v.helper)
	if err != nil {
		return nil, err
	}

	centralDirOffset, err := centralDirectoryOffset(a, eocdOffset)
	if err != nil {
		return nil, err
	}

	cert, err := parseSigningBlock(a, centralDirOffset, int64(v.opts.MaxSigningBlockSize), v.helper)
	if err == nil {
		return cert, nil
	}
	v.helper.Debugf("v2/v3 signing block path failed (%v), falling back to v1/JAR", err)

	return v.extractCertificateV1(a, centralDirOffset)
}

// extractCertificateV1 is the JAR/v1 fallback: find the first
// META-INF/*.RSA or META-INF/*.DSA entry, inflate it, and extract the
// first certificate from its PKCS#7 SignedData.
func (v *Verifier) extractCertificateV1(a *archive, centralDirOffset int64) ([]byte, error) {
	entry, err := findCertificateEntry(a, centralDirOffset, v.helper)
	if err != nil {
		return nil, err
	}

	raw, err := readZipEntryData(a, entry, v.helper)
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", entry.name, err)
	}

	cert, err := extractCertificateFromPKCS7(raw)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#7 in %q: %w", entry.name, err)
	}
	return cert, nil
}
