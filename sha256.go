// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

// sha256Size is the length in bytes of a SHA-256 digest.
const sha256Size = 32

// sha256 state words, the standard FIPS-180-4 initial hash values.
var sha256InitState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

// sha256RoundConstants are the 64 round constants K, the fractional parts
// of the cube roots of the first 64 primes.
var sha256RoundConstants = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5,
	0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3,
	0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc,
	0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7,
	0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13,
	0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3,
	0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5,
	0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208,
	0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// sha256State is a streaming FIPS-180-4 SHA-256 context, grounded on the
// original's self-ported sha256_helper.h (credited there to
// github.com/983/SHA-256). It is deliberately not crypto/sha256, so the
// digest computed over an extracted certificate is auditable byte for byte
// against this file alone.
type sha256State struct {
	state   [8]uint32
	buffer  [64]byte
	nBits   uint64
	bufFill uint8
}

// newSHA256 returns an initialized SHA-256 state.
func newSHA256() *sha256State {
	s := &sha256State{}
	s.state = sha256InitState
	return s
}

func rotr32(x uint32, n uint) uint32 {
	return (x >> n) | (x << (32 - n))
}

// consumeChunk absorbs exactly one 64-byte block into the running state.
func (s *sha256State) consumeChunk(chunk []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = uint32(chunk[i*4])<<24 | uint32(chunk[i*4+1])<<16 |
			uint32(chunk[i*4+2])<<8 | uint32(chunk[i*4+3])
	}
	for i := 16; i < 64; i++ {
		s0 := rotr32(w[i-15], 7) ^ rotr32(w[i-15], 18) ^ (w[i-15] >> 3)
		s1 := rotr32(w[i-2], 17) ^ rotr32(w[i-2], 19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, d, e, f, g, h := s.state[0], s.state[1], s.state[2], s.state[3],
		s.state[4], s.state[5], s.state[6], s.state[7]

	for i := 0; i < 64; i++ {
		s1 := rotr32(e, 6) ^ rotr32(e, 11) ^ rotr32(e, 25)
		ch := (e & f) ^ (^e & g)
		temp1 := h + s1 + ch + sha256RoundConstants[i] + w[i]
		s0 := rotr32(a, 2) ^ rotr32(a, 13) ^ rotr32(a, 22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		temp2 := s0 + maj

		h = g
		g = f
		f = e
		e = d + temp1
		d = c
		c = b
		b = a
		a = temp1 + temp2
	}

	s.state[0] += a
	s.state[1] += b
	s.state[2] += c
	s.state[3] += d
	s.state[4] += e
	s.state[5] += f
	s.state[6] += g
	s.state[7] += h
}

// append absorbs src into the running digest.
func (s *sha256State) append(src []byte) {
	s.nBits += uint64(len(src)) * 8

	for len(src) > 0 {
		n := copy(s.buffer[s.bufFill:], src)
		s.bufFill += uint8(n)
		src = src[n:]

		if s.bufFill == 64 {
			s.consumeChunk(s.buffer[:])
			s.bufFill = 0
		}
	}
}

// finalizeBytes pads and finalizes the digest into a fresh 32-byte slice,
// per RFC FIPS-180-4 padding (a 0x80 byte, zeros, then the 64-bit bit
// length in big-endian), without mutating s so repeated calls are safe.
func (s *sha256State) finalizeBytes() []byte {
	// Copy state so finalize can be called without disturbing a state the
	// caller might still be appending to (not used internally, but keeps
	// the API honest about not being destructive).
	tmp := *s

	// Append the 0x80 terminator.
	tmp.append([]byte{0x80})
	// nBits was just bumped by the 0x80 byte's append; undo that since the
	// length field must reflect only the original message bits.
	tmp.nBits -= 8

	// Pad with zero bytes until 56 mod 64, leaving room for the 8-byte
	// length field.
	need := (56 - int(tmp.bufFill) + 64) % 64
	if need > 0 {
		tmp.appendNoLengthBump(make([]byte, need))
	}

	var lenBytes [8]byte
	bits := tmp.nBits
	for i := 7; i >= 0; i-- {
		lenBytes[i] = byte(bits)
		bits >>= 8
	}
	tmp.appendNoLengthBump(lenBytes[:])

	out := make([]byte, sha256Size)
	for i, word := range tmp.state {
		out[i*4] = byte(word >> 24)
		out[i*4+1] = byte(word >> 16)
		out[i*4+2] = byte(word >> 8)
		out[i*4+3] = byte(word)
	}
	return out
}

// appendNoLengthBump absorbs padding bytes without counting them toward
// nBits, since the FIPS-180-4 length field records only the original
// message's bit length.
func (s *sha256State) appendNoLengthBump(src []byte) {
	saved := s.nBits
	s.append(src)
	s.nBits = saved
}

// sha256Bytes is the one-shot convenience form: hash src in a single call.
func sha256Bytes(src []byte) []byte {
	s := newSHA256()
	s.append(src)
	return s.finalizeBytes()
}
