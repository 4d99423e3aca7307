// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package apkverify

// This file is a Go port of the original's inflate_helper.cpp, itself
// derived from tinflate by Joergen Ibsen. It implements just enough of RFC
// 1951 to decode the stored, fixed-Huffman and dynamic-Huffman DEFLATE
// block types ZIP entries use; it is deliberately not compress/flate, since
// this path must not trust the declared uncompressed size of untrusted
// archive bytes.

// inflateTree is a canonical Huffman tree represented the tinflate way:
// counts[len] is the number of codes of each bit length, and symbols holds
// the alphabet sorted into code order.
type inflateTree struct {
	counts  [16]uint16
	symbols [288]uint16
	maxSym  int32
}

// inflateState is the bit reader plus output cursor threaded through one
// decode, the Go analogue of the original's InflateData.
type inflateState struct {
	src      []byte
	srcPos   int
	tag      uint32
	bitcount uint32
	overflow bool

	dst    []byte
	dstPos int

	ltree inflateTree
	dtree inflateTree
}

// Special ordering of code length codes, fixed by RFC 1951 §3.2.7.
var inflateClcIdx = [19]uint8{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5,
	11, 4, 12, 3, 13, 2, 14, 1, 15,
}

// Extra bits and base tables for length codes, RFC 1951 §3.2.5.
var inflateLengthBits = [30]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0, 127,
}

var inflateLengthBase = [30]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258, 0,
}

// Extra bits and base tables for distance codes.
var inflateDistBits = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

var inflateDistBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

// inflateBuildFixedTrees fills lt/dt with the RFC 1951 §3.2.6 fixed trees.
func inflateBuildFixedTrees(lt, dt *inflateTree) {
	for i := range lt.counts {
		lt.counts[i] = 0
	}
	lt.counts[7] = 24
	lt.counts[8] = 152
	lt.counts[9] = 112

	for i := 0; i < 24; i++ {
		lt.symbols[i] = uint16(256 + i)
	}
	for i := 0; i < 144; i++ {
		lt.symbols[24+i] = uint16(i)
	}
	for i := 0; i < 8; i++ {
		lt.symbols[24+144+i] = uint16(280 + i)
	}
	for i := 0; i < 112; i++ {
		lt.symbols[24+144+8+i] = uint16(144 + i)
	}
	lt.maxSym = 285

	for i := range dt.counts {
		dt.counts[i] = 0
	}
	dt.counts[5] = 32
	for i := 0; i < 32; i++ {
		dt.symbols[i] = uint16(i)
	}
	dt.maxSym = 29
}

// inflateBuildTree builds a canonical Huffman tree from an array of code
// lengths, one per symbol. It reports an error for an over- or
// under-subscribed code, and applies the single-code phantom-symbol special
// case tinflate uses to keep inflateDecodeSymbol branch-free.
func inflateBuildTree(t *inflateTree, lengths []uint8, num int) error {
	var offs [16]uint16

	for i := range t.counts {
		t.counts[i] = 0
	}
	t.maxSym = -1

	for i := 0; i < num; i++ {
		if lengths[i] != 0 {
			t.maxSym = int32(i)
			t.counts[lengths[i]]++
		}
	}

	var numCodes, available uint32 = 0, 1
	for i := 0; i < 16; i++ {
		used := uint32(t.counts[i])
		if used > available {
			return ErrDeflateMalformed
		}
		available = 2 * (available - used)
		offs[i] = uint16(numCodes)
		numCodes += used
	}

	if (numCodes > 1 && available > 0) || (numCodes == 1 && t.counts[1] != 1) {
		return ErrDeflateMalformed
	}

	for i := 0; i < num; i++ {
		if lengths[i] != 0 {
			t.symbols[offs[lengths[i]]] = uint16(i)
			offs[lengths[i]]++
		}
	}

	// For the special case of only one code (which will be 0) add a code
	// 1 which results in a symbol that is too large.
	if numCodes == 1 {
		t.counts[1] = 2
		t.symbols[1] = uint16(t.maxSym + 1)
	}

	return nil
}

func inflateRefill(d *inflateState, num uint32) {
	for d.bitcount < num {
		if d.srcPos != len(d.src) {
			d.tag |= uint32(d.src[d.srcPos]) << d.bitcount
			d.srcPos++
		} else {
			d.overflow = true
		}
		d.bitcount += 8
	}
}

func inflateGetBitsNoRefill(d *inflateState, num uint32) uint32 {
	bits := d.tag & ((1 << num) - 1)
	d.tag >>= num
	d.bitcount -= num
	return bits
}

func inflateGetBits(d *inflateState, num uint32) uint32 {
	inflateRefill(d, num)
	return inflateGetBitsNoRefill(d, num)
}

func inflateGetBitsBase(d *inflateState, num uint32, base uint32) uint32 {
	if num == 0 {
		return base
	}
	return base + inflateGetBits(d, num)
}

// inflateDecodeSymbol walks t one bit at a time to the symbol index, per
// tinflate's canonical-code decode: at each depth, offs tracks the position
// within that depth's leaves versus internal nodes.
func inflateDecodeSymbol(d *inflateState, t *inflateTree) uint16 {
	var base, offs uint32
	for length := uint32(1); ; length++ {
		offs = 2*offs + inflateGetBits(d, 1)
		if offs < uint32(t.counts[length]) {
			break
		}
		base += uint32(t.counts[length])
		offs -= uint32(t.counts[length])
	}
	return t.symbols[base+offs]
}

// inflateDecodeTrees reads a dynamic block's header (HLIT/HDIST/HCLEN, the
// code-length alphabet, and the run-length-encoded code lengths for the
// literal/length and distance alphabets) and builds both trees.
func inflateDecodeTrees(d *inflateState, lt, dt *inflateTree) error {
	hlit := inflateGetBitsBase(d, 5, 257)
	hdist := inflateGetBitsBase(d, 5, 1)
	hclen := inflateGetBitsBase(d, 4, 4)

	if hlit > 286 || hdist > 30 {
		return ErrDeflateMalformed
	}

	var lengths [288 + 32]uint8
	for i := uint32(0); i < hclen; i++ {
		lengths[inflateClcIdx[i]] = uint8(inflateGetBits(d, 3))
	}

	if err := inflateBuildTree(lt, lengths[:19], 19); err != nil {
		return err
	}
	if lt.maxSym == -1 {
		return ErrDeflateMalformed
	}

	for num := uint32(0); num < hlit+hdist; {
		sym := inflateDecodeSymbol(d, lt)
		if uint32(sym) > uint32(lt.maxSym) {
			return ErrDeflateMalformed
		}

		var length uint32
		switch sym {
		case 16:
			if num == 0 {
				return ErrDeflateMalformed
			}
			sym = uint16(lengths[num-1])
			length = inflateGetBitsBase(d, 2, 3)
		case 17:
			sym = 0
			length = inflateGetBitsBase(d, 3, 3)
		case 18:
			sym = 0
			length = inflateGetBitsBase(d, 7, 11)
		default:
			length = 1
		}

		if length > hlit+hdist-num {
			return ErrDeflateMalformed
		}
		for ; length > 0; length-- {
			lengths[num] = uint8(sym)
			num++
		}
	}

	if lengths[256] == 0 {
		return ErrDeflateMalformed
	}

	if err := inflateBuildTree(lt, lengths[:hlit], int(hlit)); err != nil {
		return err
	}
	if err := inflateBuildTree(dt, lengths[hlit:hlit+hdist], int(hdist)); err != nil {
		return err
	}
	return nil
}

// inflateBlockData decodes symbols against lt/dt until an end-of-block
// symbol (256), copying literals and length/distance matches into d.dst.
func inflateBlockData(d *inflateState, lt, dt *inflateTree) error {
	for {
		sym := inflateDecodeSymbol(d, lt)
		if d.overflow {
			return ErrDeflateMalformed
		}

		if sym < 256 {
			if d.dstPos == len(d.dst) {
				return ErrDeflateOverflow
			}
			d.dst[d.dstPos] = uint8(sym)
			d.dstPos++
			continue
		}

		if sym == 256 {
			return nil
		}

		if int32(sym) > lt.maxSym || sym-257 > 28 || dt.maxSym == -1 {
			return ErrDeflateMalformed
		}
		sym -= 257

		length := inflateGetBitsBase(d, uint32(inflateLengthBits[sym]), uint32(inflateLengthBase[sym]))

		dist := inflateDecodeSymbol(d, dt)
		if int32(dist) > dt.maxSym || dist > 29 {
			return ErrDeflateMalformed
		}

		offs := inflateGetBitsBase(d, uint32(inflateDistBits[dist]), uint32(inflateDistBase[dist]))
		if int(offs) > d.dstPos {
			return ErrDeflateMalformed
		}
		if len(d.dst)-d.dstPos < int(length) {
			return ErrDeflateOverflow
		}

		src := d.dstPos - int(offs)
		for i := 0; i < int(length); i++ {
			d.dst[d.dstPos+i] = d.dst[src+i]
		}
		d.dstPos += int(length)
	}
}

// inflateStoredBlock copies an uncompressed (type 0) block verbatim,
// validating the length/~length pair RFC 1951 §3.2.4 requires.
func inflateStoredBlock(d *inflateState) error {
	if len(d.src)-d.srcPos < 4 {
		return ErrDeflateMalformed
	}

	length := uint32(readLE16(d.src[d.srcPos:]))
	invLength := uint32(readLE16(d.src[d.srcPos+2:]))
	if length != (^invLength & 0xFFFF) {
		return ErrDeflateMalformed
	}
	d.srcPos += 4

	if len(d.src)-d.srcPos < int(length) {
		return ErrDeflateMalformed
	}
	if len(d.dst)-d.dstPos < int(length) {
		return ErrDeflateOverflow
	}

	copy(d.dst[d.dstPos:], d.src[d.srcPos:d.srcPos+int(length)])
	d.dstPos += int(length)
	d.srcPos += int(length)

	// Next block starts on a byte boundary: discard any partial bits.
	d.tag = 0
	d.bitcount = 0
	return nil
}

func inflateFixedBlock(d *inflateState) error {
	inflateBuildFixedTrees(&d.ltree, &d.dtree)
	return inflateBlockData(d, &d.ltree, &d.dtree)
}

func inflateDynamicBlock(d *inflateState) error {
	if err := inflateDecodeTrees(d, &d.ltree, &d.dtree); err != nil {
		return err
	}
	return inflateBlockData(d, &d.ltree, &d.dtree)
}

// rawInflate decodes a raw DEFLATE stream (no zlib or gzip header) from src
// into a fresh buffer of exactly dstLen bytes. It reports
// ErrInflatedSizeMismatch if the stream's final block boundary does not
// land exactly at dstLen, which callers use to cross-check the uncompressed
// size a ZIP local/central header declares.
func rawInflate(src []byte, dstLen int) ([]byte, error) {
	d := &inflateState{
		src: src,
		dst: make([]byte, dstLen),
	}

	for {
		bfinal := inflateGetBits(d, 1)
		btype := inflateGetBits(d, 2)

		var err error
		switch btype {
		case 0:
			err = inflateStoredBlock(d)
		case 1:
			err = inflateFixedBlock(d)
		case 2:
			err = inflateDynamicBlock(d)
		default:
			err = ErrDeflateMalformed
		}
		if err != nil {
			return nil, err
		}

		if bfinal != 0 {
			break
		}
	}

	if d.overflow {
		return nil, ErrDeflateMalformed
	}
	if d.dstPos != dstLen {
		return nil, ErrInflatedSizeMismatch
	}
	return d.dst, nil
}
