package apkverify

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// buildSigningBlockBytes constructs a full, realistic APK Signing Block
// region per the documented v2 format:
//
//	[u64 leading size][pairs][u64 trailing size][16-byte magic]
//
// Both size fields carry the same value: the block's total size excluding
// the leading 8-byte field itself, i.e. len(pairs) + 8 (trailing size) + 16
// (magic). This is built directly from that documented layout, independent
// of readSigningBlock's own offset arithmetic, so a regression in that
// arithmetic is caught by the test rather than baked into the fixture.
func buildSigningBlockBytes(t *testing.T, schemePairs []byte) []byte {
	t.Helper()

	size := uint64(len(schemePairs)) + 24

	var buf bytes.Buffer
	leadingSize := make([]byte, 8)
	putLE64(leadingSize, size)
	buf.Write(leadingSize)

	buf.Write(schemePairs)

	trailingSize := make([]byte, 8)
	putLE64(trailingSize, size)
	buf.Write(trailingSize)

	buf.WriteString(apkSigBlockMagic)

	return buf.Bytes()
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// encodeV2SchemeValue builds the v2 scheme payload for one signer and one
// certificate, per extractFirstCertificateFromV2Scheme's expected layout.
func encodeV2SchemeValue(cert []byte) []byte {
	var signedData bytes.Buffer

	// digests: length-prefixed, contents irrelevant to extraction.
	digests := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	digestsLen := make([]byte, 4)
	putLE32(digestsLen, uint32(len(digests)))
	signedData.Write(digestsLen)
	signedData.Write(digests)

	// certificates: total length, then one certificate's length+bytes.
	certLenField := make([]byte, 4)
	putLE32(certLenField, uint32(len(cert)))

	var certsBlob bytes.Buffer
	certsBlob.Write(certLenField)
	certsBlob.Write(cert)

	certsLenField := make([]byte, 4)
	putLE32(certsLenField, uint32(certsBlob.Len()))
	signedData.Write(certsLenField)
	signedData.Write(certsBlob.Bytes())

	var signer bytes.Buffer
	signedDataLenField := make([]byte, 4)
	putLE32(signedDataLenField, uint32(signedData.Len()))
	signer.Write(signedDataLenField)
	signer.Write(signedData.Bytes())

	var scheme bytes.Buffer
	signersLenField := make([]byte, 4)
	putLE32(signersLenField, uint32(signer.Len()))
	scheme.Write(signersLenField)
	scheme.Write(signer.Bytes())

	return scheme.Bytes()
}

// encodeSigningBlockPair builds one (u64 size, u32 id, value) record in the
// real APK Signing Block field order (not the original C++'s buggy
// id-before-size order).
func encodeSigningBlockPair(id uint32, value []byte) []byte {
	var buf bytes.Buffer
	size := make([]byte, 8)
	putLE64(size, uint64(len(value)+4))
	buf.Write(size)

	idField := make([]byte, 4)
	putLE32(idField, id)
	buf.Write(idField)

	buf.Write(value)
	return buf.Bytes()
}

func TestParseSigningBlockPairsFindsV2Scheme(t *testing.T) {
	cert := []byte("fake certificate DER content for v2 scheme test")
	v2Value := encodeV2SchemeValue(cert)

	padding := encodeSigningBlockPair(0xDEADBEEF, []byte("irrelevant padding pair"))
	v2Pair := encodeSigningBlockPair(apkSigV2SchemeID, v2Value)

	payload := append(append([]byte{}, padding...), v2Pair...)

	got, err := parseSigningBlockPairs(payload)
	if err != nil {
		t.Fatalf("parseSigningBlockPairs: %v", err)
	}
	if !bytes.Equal(got, v2Value) {
		t.Errorf("parseSigningBlockPairs returned wrong scheme slice")
	}
}

func TestParseSigningBlockPairsSchemeNotFound(t *testing.T) {
	payload := encodeSigningBlockPair(0x12345678, []byte("not the v2 scheme"))
	if _, err := parseSigningBlockPairs(payload); err == nil {
		t.Fatal("expected ErrSigningBlockSchemeNotFound, got nil")
	}
}

func TestExtractFirstCertificateFromV2Scheme(t *testing.T) {
	cert := []byte("the first and only certificate in this fixture, used verbatim")
	scheme := encodeV2SchemeValue(cert)

	got, err := extractFirstCertificateFromV2Scheme(scheme)
	if err != nil {
		t.Fatalf("extractFirstCertificateFromV2Scheme: %v", err)
	}
	if !bytes.Equal(got, cert) {
		t.Errorf("extracted cert = %q, want %q", got, cert)
	}
}

func TestParseSigningBlockEndToEnd(t *testing.T) {
	cert := []byte("end to end signing block certificate bytes for this fixture")
	v2Pair := encodeSigningBlockPair(apkSigV2SchemeID, encodeV2SchemeValue(cert))
	blockBytes := buildSigningBlockBytes(t, v2Pair)

	// Lay out a minimal file: [block][centralDir placeholder][eocd-ish tail]
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.bin")

	centralDirOffset := int64(len(blockBytes))
	var file bytes.Buffer
	file.Write(blockBytes)
	file.WriteString("pretend central directory bytes")

	if err := os.WriteFile(path, file.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive: %v", err)
	}
	defer a.close()

	got, err := parseSigningBlock(a, centralDirOffset, defaultMaxSigningBlockSize, testHelper())
	if err != nil {
		t.Fatalf("parseSigningBlock: %v", err)
	}
	if !bytes.Equal(got, cert) {
		t.Errorf("parseSigningBlock cert = %q, want %q", got, cert)
	}
}

func TestLocateSigningBlockMagicNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nomagic.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x00}, 256), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive: %v", err)
	}
	defer a.close()

	if _, err := locateSigningBlock(a, 256, testHelper()); err == nil {
		t.Fatal("expected ErrSigningBlockMagicNotFound, got nil")
	}
}
