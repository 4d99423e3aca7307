package apkverify

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// buildV2SignedAPK builds a ZIP archive via the stdlib archive/zip writer,
// then splices an APK Signing Block v2 (carrying cert) immediately before
// the central directory, patching the EOCD's central-directory offset to
// match — reproducing the real on-disk layout Verify expects.
func buildV2SignedAPK(t *testing.T, entries map[string][]byte, cert []byte) string {
	t.Helper()

	rawZip := zipBytes(t, entries, nil)

	eocdOffset := findEOCDOffsetForTest(t, rawZip)
	cdOffsetOriginal := int64(binary.LittleEndian.Uint32(rawZip[eocdOffset+16:]))

	v2Pair := encodeSigningBlockPair(apkSigV2SchemeID, encodeV2SchemeValue(cert))
	signingBlock := buildSigningBlockBytes(t, v2Pair)

	var out bytes.Buffer
	out.Write(rawZip[:cdOffsetOriginal])
	out.Write(signingBlock)
	out.Write(rawZip[cdOffsetOriginal:])

	newBytes := out.Bytes()
	newEocdOffset := eocdOffset + int64(len(signingBlock))
	newCDOffset := cdOffsetOriginal + int64(len(signingBlock))
	binary.LittleEndian.PutUint32(newBytes[newEocdOffset+16:], uint32(newCDOffset))

	dir := t.TempDir()
	path := filepath.Join(dir, "signed-v2.apk")
	if err := os.WriteFile(path, newBytes, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// buildV1SignedAPK builds a ZIP archive containing a META-INF/*.RSA entry
// holding a hand-built PKCS#7 SignedData blob wrapping cert, stored
// uncompressed. Entries are written raw with CRC-32 and sizes filled in, so
// each local file header carries the real sizes rather than a data
// descriptor.
func buildV1SignedAPK(t *testing.T, extraEntries map[string][]byte, pkcs7 []byte) string {
	t.Helper()

	entries := map[string][]byte{"META-INF/CERT.RSA": pkcs7}
	for name, content := range extraEntries {
		entries[name] = content
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "signed-v1.apk")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		hdr := &zip.FileHeader{
			Name:               name,
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE(content),
			CompressedSize64:   uint64(len(content)),
			UncompressedSize64: uint64(len(content)),
		}
		fw, err := w.CreateRaw(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%s): %v", name, err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

// zipBytes builds a ZIP archive in memory via the stdlib writer.
func zipBytes(t *testing.T, entries map[string][]byte, storedNames map[string]bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		method := zip.Deflate
		if storedNames[name] {
			method = zip.Store
		}
		hdr := &zip.FileHeader{Name: name, Method: method}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%s): %v", name, err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

// findEOCDOffsetForTest locates the EOCD record's start offset by scanning
// backward for its signature — a plain byte search, independent of the
// package's own findEOCD, so the test fixture builder doesn't rely on the
// code under test.
func findEOCDOffsetForTest(t *testing.T, buf []byte) int64 {
	t.Helper()
	for i := len(buf) - eocdMinSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) == eocdSignature {
			return int64(i)
		}
	}
	t.Fatal("EOCD signature not found in fixture")
	return 0
}

func TestVerifyHappyPathV2(t *testing.T) {
	cert := []byte("v2 scheme certificate DER bytes for the happy path scenario")
	path := buildV2SignedAPK(t, map[string][]byte{
		"classes.dex": bytes.Repeat([]byte{0x42}, 2048),
	}, cert)

	v := New(nil)
	if !v.Verify(path, sha256Bytes(cert)) {
		t.Error("Verify() = false, want true for a correctly v2-signed APK")
	}
}

func TestVerifyHappyPathV1(t *testing.T) {
	pkcs7Bytes, cert := buildPKCS7Fixture()

	path := buildV1SignedAPK(t, map[string][]byte{
		"classes.dex": bytes.Repeat([]byte{0x07}, 1024),
	}, pkcs7Bytes)

	v := New(nil)
	if !v.Verify(path, sha256Bytes(cert)) {
		t.Error("Verify() = false, want true for a correctly v1/JAR-signed APK")
	}
}

func TestVerifyTamperedCertificateMismatch(t *testing.T) {
	cert := []byte("the real certificate that actually signs this APK")
	path := buildV2SignedAPK(t, map[string][]byte{
		"classes.dex": bytes.Repeat([]byte{0x11}, 512),
	}, cert)

	wrongHash := sha256Bytes([]byte("an attacker-supplied certificate, not the real one"))

	v := New(nil)
	if v.Verify(path, wrongHash) {
		t.Error("Verify() = true, want false for a hash that doesn't match the embedded certificate")
	}
}

func TestVerifyMissingSigningInfo(t *testing.T) {
	path := buildV1SignedAPKNoSignature(t)

	v := New(nil)
	if v.Verify(path, sha256Bytes([]byte("anything"))) {
		t.Error("Verify() = true, want false when no v2/v3 block or v1 signature entry exists")
	}
}

func buildV1SignedAPKNoSignature(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "unsigned.apk")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	fw, err := w.Create("classes.dex")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fw.Write([]byte("no signature files anywhere in this archive")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestVerifyTruncatedEOCD(t *testing.T) {
	path := buildV1SignedAPKNoSignature(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	truncated := append([]byte{}, data...)
	for i := len(truncated) - 30; i < len(truncated); i++ {
		if i >= 0 {
			truncated[i] = 0
		}
	}
	if err := os.WriteFile(path, truncated, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v := New(nil)
	if v.Verify(path, sha256Bytes([]byte("anything"))) {
		t.Error("Verify() = true, want false for an archive with a destroyed EOCD record")
	}
}

func TestVerifyCrossSchemeAgreement(t *testing.T) {
	// The v1/JAR path's certificate must be valid TBSCertificate DER (it's
	// walked field by field), so reuse buildPKCS7Fixture's deterministic
	// certificate for both schemes rather than an arbitrary byte string:
	// the v2 scheme payload has no such structural requirement, so the same
	// bytes work unmodified there too.
	pkcs7Bytes, cert := buildPKCS7Fixture()
	expectedHash := sha256Bytes(cert)

	v2Path := buildV2SignedAPK(t, map[string][]byte{
		"classes.dex": bytes.Repeat([]byte{0x22}, 256),
	}, cert)

	v1Path := buildV1SignedAPK(t, map[string][]byte{
		"classes.dex": bytes.Repeat([]byte{0x33}, 256),
	}, pkcs7Bytes)

	v := New(nil)
	if !v.Verify(v2Path, expectedHash) {
		t.Error("Verify() = false for v2-signed copy of the shared certificate")
	}
	if !v.Verify(v1Path, expectedHash) {
		t.Error("Verify() = false for v1-signed copy of the shared certificate")
	}
}
