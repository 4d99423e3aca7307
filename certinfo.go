// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

import (
	"crypto/x509"
	"fmt"
	"time"
)

// CertInfo wraps the fields of an X.509 certificate useful for diagnostic
// display. It is built purely for human inspection (the cmd/apkverify CLI)
// and is never consulted by Verify/VerifyPackage's match decision, which
// compares raw DER bytes only.
type CertInfo struct {
	Issuer             string                  `json:"issuer"`
	Subject            string                  `json:"subject"`
	NotBefore          time.Time               `json:"not_before"`
	NotAfter           time.Time               `json:"not_after"`
	SerialNumber       string                  `json:"serial_number"`
	SignatureAlgorithm x509.SignatureAlgorithm `json:"signature_algorithm"`
	PublicKeyAlgorithm x509.PublicKeyAlgorithm `json:"public_key_algorithm"`
}

// ParseCertInfo decodes certDER as an X.509 certificate (stdlib
// crypto/x509, since this path is diagnostic-only and not part of the
// verification core — see DESIGN.md) and extracts the fields CertInfo
// exposes.
func ParseCertInfo(certDER []byte) (*CertInfo, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("apkverify: parse certificate for display: %w", err)
	}

	return &CertInfo{
		Issuer:             cert.Issuer.String(),
		Subject:            cert.Subject.String(),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		SerialNumber:       cert.SerialNumber.String(),
		SignatureAlgorithm: cert.SignatureAlgorithm,
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm,
	}, nil
}
