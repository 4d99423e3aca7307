// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import "github.com/pinlock/apkverify/log"

// Default tunables, applied by New when the caller leaves the
// corresponding Options field at its zero value.
const (
	defaultCertBufferSize      = 8192
	defaultMaxSigningBlockSize = 64 << 20 // 64 MiB
)

// Options configures a Verifier. The zero value is valid; New fills in
// defaults for any field left unset.
type Options struct {
	// CertBufferSize caps the size of an extracted certificate. Exceeding
	// it yields ErrCertificateTooLarge rather than a silent truncation.
	CertBufferSize uint32

	// MaxSigningBlockSize caps the declared size of an APK Signing Block
	// before its payload is read into memory, since that size is read
	// from untrusted bytes.
	MaxSigningBlockSize uint64

	// Logger receives formatted diagnostic records at key decision
	// points. Nil means silent; Verify never depends on it.
	Logger log.Logger
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.CertBufferSize == 0 {
		out.CertBufferSize = defaultCertBufferSize
	}
	if out.MaxSigningBlockSize == 0 {
		out.MaxSigningBlockSize = defaultMaxSigningBlockSize
	}
	return out
}
