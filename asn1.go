// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

// DER tag bytes, from pkcs7_helper.cpp's TAG_* constants.
const (
	tagInteger     = 0x02
	tagBitString   = 0x03
	tagOctetString = 0x04
	tagObjectID    = 0x06
	tagSequence    = 0x30
	tagSet         = 0x31
	tagOptional    = 0xA0 // certificates [0] IMPLICIT
)

// asn1Element is one named node of the flat list a single forward DER walk
// produces: tag and content bounds, plus the nesting depth it was found at.
// Grounded on pkcs7_helper.cpp's `element` struct; the original's singly
// linked list becomes a plain slice here.
type asn1Element struct {
	tag   byte
	name  string
	begin int
	len   int
	level int
}

// parseContext replaces the original's module-scope globals (m_pos,
// m_length, head/tail) with state explicitly threaded through every parsing
// function, fixing the non-reentrancy hazard those globals caused (two
// concurrent or nested parses would otherwise clobber each other's
// position and element list). A fresh parseContext is created for every
// extractCertificateFromPKCS7 call, so there is no bleed between calls.
type parseContext struct {
	buf      []byte
	pos      int
	elements []asn1Element
}

// lengthByteCount reports how many bytes starting at lenbyte (inclusive)
// the length encoding occupies: 1 for short form, or 1+n for long form
// where n = lenbyte&0x7f.
func lengthByteCount(lenbyte byte) int {
	if lenbyte&0x80 != 0 {
		return 1 + int(lenbyte&0x7f)
	}
	return 1
}

// decodeLength decodes the content length encoded starting at lenByteOffset
// (the offset of the length's first byte). X.690: high bit clear means the
// byte itself is the length; high bit set means the low 7 bits give a
// big-endian follow-on byte count, capped here at 4 bytes (a length that
// would need more than 4 length-of-length bytes cannot describe any
// certificate or signing structure this package parses, and is rejected
// rather than trusted).
func decodeLength(buf []byte, lenByteOffset int) (int, error) {
	if lenByteOffset >= len(buf) {
		return 0, ErrASN1Malformed
	}
	lenbyte := buf[lenByteOffset]

	if lenbyte&0x80 == 0 {
		return int(lenbyte), nil
	}

	n := int(lenbyte & 0x7f)
	if n == 0 || n > 4 {
		return 0, ErrASN1LengthTooLong
	}
	if lenByteOffset+1+n > len(buf) {
		return 0, ErrASN1Malformed
	}

	length := 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(buf[lenByteOffset+1+i])
	}
	return length, nil
}

// createElement reads one TLV at ctx.pos, verifies its tag matches want,
// appends it to ctx.elements, advances ctx.pos past the tag+length prefix
// (but not past the content — callers advance past content explicitly,
// mirroring the original's createElement/m_pos split), and returns the
// decoded content length.
func (ctx *parseContext) createElement(want byte, name string, level int) (int, error) {
	if ctx.pos >= len(ctx.buf) {
		return 0, ErrASN1Malformed
	}

	tag := ctx.buf[ctx.pos]
	if tag != want {
		return 0, ErrASN1Malformed
	}
	ctx.pos++

	length, err := decodeLength(ctx.buf, ctx.pos)
	if err != nil {
		return 0, err
	}
	ctx.pos += lengthByteCount(ctx.buf[ctx.pos])

	ctx.elements = append(ctx.elements, asn1Element{
		tag:   tag,
		name:  name,
		begin: ctx.pos,
		len:   length,
		level: level,
	})

	return length, nil
}

// getElement returns the first element whose name has the given prefix, in
// parse order — the Go analogue of getElement's linked-list walk.
func (ctx *parseContext) getElement(namePrefix string) (*asn1Element, bool) {
	for i := range ctx.elements {
		if hasPrefix(ctx.elements[i].name, namePrefix) {
			return &ctx.elements[i], true
		}
	}
	return nil, false
}

func hasPrefix(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// parseTBSCertificate walks the fixed-shape tbsCertificate subtree:
// version (optional, explicit [0] tag), serialNumber, signature, issuer,
// validity, subject, subjectPublicKeyInfo, optional [1]/[2]/[3] unique IDs
// and extensions, signatureAlgorithm, signatureValue.
func (ctx *parseContext) parseTBSCertificate(level int) error {
	names := []string{
		"tbsCertificate",
		"version",
		"serialNumber",
		"signature",
		"issuer",
		"validity",
		"subject",
		"subjectPublicKeyInfo",
		"issuerUniqueID-[optional]",
		"subjectUniqueID-[optional]",
		"extensions-[optional]",
		"signatureAlgorithm",
		"signatureValue",
	}

	length, err := ctx.createElement(tagSequence, names[0], level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}

	// version is wrapped in an explicit context tag [0] (0xA0) when present.
	if ctx.pos < len(ctx.buf) {
		tag := ctx.buf[ctx.pos]
		if tag&0xc0 == 0x80 && tag&0x1f == 0 {
			ctx.pos++
			if ctx.pos >= len(ctx.buf) {
				return ErrASN1Malformed
			}
			ctx.pos += lengthByteCount(ctx.buf[ctx.pos])

			vlen, err := ctx.createElement(tagInteger, names[1], level+1)
			if err != nil || ctx.pos+vlen > len(ctx.buf) {
				return ErrASN1Malformed
			}
			ctx.pos += vlen
		}
	}

	// serialNumber through extensions-[optional]; entries 8-10 are
	// optional context tags and tolerated as absent.
	for i := 2; i < 11; i++ {
		var tag byte
		switch i {
		case 2:
			tag = tagInteger
		case 8:
			tag = 0xA1
		case 9:
			tag = 0xA2
		case 10:
			tag = 0xA3
		default:
			tag = tagSequence
		}

		length, err := ctx.createElement(tag, names[i], level+1)
		if i < 8 && err != nil {
			return ErrASN1Malformed
		}
		if err == nil {
			ctx.pos += length
		}
	}

	length, err = ctx.createElement(tagSequence, names[11], level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += length

	length, err = ctx.createElement(tagBitString, names[12], level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += length

	return nil
}

// parseSignerInfo walks one SignerInfo: version, issuerAndSerialNumber,
// digestAlgorithmId, optional authenticatedAttributes, digestEncryption-
// AlgorithmId, encryptedDigest, optional unauthenticatedAttributes.
func (ctx *parseContext) parseSignerInfo(level int) error {
	names := []string{
		"version",
		"issuerAndSerialNumber",
		"digestAlgorithmId",
		"authenticatedAttributes-[optional]",
		"digestEncryptionAlgorithmId",
		"encryptedDigest",
		"unauthenticatedAttributes-[optional]",
	}

	for i, name := range names {
		var tag byte
		switch i {
		case 0:
			tag = tagInteger
		case 3:
			tag = 0xA0
		case 5:
			tag = tagOctetString
		case 6:
			tag = 0xA1
		default:
			tag = tagSequence
		}

		length, err := ctx.createElement(tag, name, level)
		if err != nil || ctx.pos+length > len(ctx.buf) {
			if i == 3 || i == 6 {
				continue
			}
			return ErrASN1Malformed
		}
		ctx.pos += length
	}

	if ctx.pos != len(ctx.buf) {
		return ErrASN1Malformed
	}
	return nil
}

// parseContent walks SignedData's content: version, DigestAlgorithms,
// contentInfo, optional certificates, optional crls, signerInfos.
func (ctx *parseContext) parseContent(level int) error {
	length, err := ctx.createElement(tagInteger, "version", level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += length

	length, err = ctx.createElement(tagSet, "DigestAlgorithms", level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += length

	length, err = ctx.createElement(tagSequence, "contentInfo", level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += length

	if ctx.pos < len(ctx.buf) && ctx.buf[ctx.pos] == tagOptional {
		ctx.pos++
		if ctx.pos >= len(ctx.buf) {
			return ErrASN1Malformed
		}
		ctx.pos += lengthByteCount(ctx.buf[ctx.pos])

		length, err := ctx.createElement(tagSequence, "certificates-[optional]", level)
		if err != nil || ctx.pos+length > len(ctx.buf) {
			return ErrASN1Malformed
		}
		if err := ctx.parseTBSCertificate(level + 1); err != nil {
			return err
		}
	}

	if ctx.pos < len(ctx.buf) && ctx.buf[ctx.pos] == 0xA1 {
		ctx.pos++
		if ctx.pos >= len(ctx.buf) {
			return ErrASN1Malformed
		}
		ctx.pos += lengthByteCount(ctx.buf[ctx.pos])

		length, err := ctx.createElement(tagSequence, "crls-[optional]", level)
		if err != nil || ctx.pos+length > len(ctx.buf) {
			return ErrASN1Malformed
		}
		ctx.pos += length
	}

	if ctx.pos >= len(ctx.buf) || ctx.buf[ctx.pos] != tagSet {
		return ErrASN1Malformed
	}
	length, err = ctx.createElement(tagSet, "signerInfos", level)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}

	length, err = ctx.createElement(tagSequence, "signerInfo", level+1)
	if err != nil || ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}
	return ctx.parseSignerInfo(level + 2)
}

// parsePKCS7 parses the outer PKCS#7 envelope: SEQUENCE, contentType OID,
// content [0] wrapper, then delegates to parseContent for SignedData.
func (ctx *parseContext) parsePKCS7() error {
	if ctx.pos >= len(ctx.buf) || ctx.buf[ctx.pos] != tagSequence {
		return ErrASN1Malformed
	}
	ctx.pos++

	length, err := decodeLength(ctx.buf, ctx.pos)
	if err != nil {
		return err
	}
	ctx.pos += lengthByteCount(ctx.buf[ctx.pos])
	if ctx.pos+length > len(ctx.buf) {
		return ErrASN1Malformed
	}

	clen, err := ctx.createElement(tagObjectID, "contentType", 0)
	if err != nil {
		return err
	}
	ctx.pos += clen

	// content [0] explicit wrapper: consume its tag+length without
	// recording it as a named element, matching the original's unnamed
	// "optional" tag/lenbyte skip.
	if ctx.pos >= len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos++
	if ctx.pos >= len(ctx.buf) {
		return ErrASN1Malformed
	}
	ctx.pos += lengthByteCount(ctx.buf[ctx.pos])

	if _, err := ctx.createElement(tagSequence, "content-[optional]", 0); err != nil {
		return err
	}

	return ctx.parseContent(1)
}

// tagOffset computes the number of bytes between an element's recorded
// content start and its tag byte: 1 (tag) + the length encoding's byte
// count for that element's declared length.
func tagOffset(buf []byte, el *asn1Element) int {
	lengthBytes := lengthEncodingSize(el.len)
	tagPos := el.begin - lengthBytes - 1
	if tagPos < 0 || buf[tagPos] != el.tag {
		return 0
	}
	return lengthBytes + 1
}

// lengthEncodingSize is the X.690 byte count of the length field required
// to encode length, the Go analogue of getNumFromLen.
func lengthEncodingSize(length int) int {
	n := 0
	for tmp := length; tmp != 0; tmp >>= 8 {
		n++
	}
	if (n == 1 && length >= 0x80) || n > 1 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// extractCertificateFromPKCS7 parses a PKCS#7 SignedData DER buffer and
// returns the DER bytes of the first certificate found (outer SEQUENCE
// tag included), per C7's single-forward-walk design.
func extractCertificateFromPKCS7(buf []byte) ([]byte, error) {
	ctx := &parseContext{buf: buf}

	if err := ctx.parsePKCS7(); err != nil {
		return nil, err
	}

	cert, ok := ctx.getElement("certificates-[optional]")
	if !ok {
		return nil, ErrCertificateNotFound
	}

	offset := tagOffset(buf, cert)
	if offset == 0 {
		return nil, ErrCertificateNotFound
	}

	start := cert.begin - offset
	end := start + offset + cert.len
	if start < 0 || end > len(buf) {
		return nil, ErrASN1Malformed
	}

	return dupBytes(buf[start:end]), nil
}
