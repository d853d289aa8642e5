// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import "encoding/binary"

// fletcher64 computes the APFS object checksum per spec.md §4.3: Fletcher-64
// over 32-bit little-endian words modulo 2^32-1, skipping the 8-byte stored
// checksum at the start of the object. Grounded on the chunked-reduction
// style of deploymenttheory-go-apfs's object_checksum_verifier.go, but
// follows spec.md's check1/check2 formula rather than that file's simpler
// (and non-conformant) sum2<<32|sum1 shortcut.
func fletcher64(object []byte) uint64 {
	const modulus = uint64(0xFFFFFFFF)
	var sum1, sum2 uint64

	for i := 8; i+4 <= len(object); i += 4 {
		w := uint64(binary.LittleEndian.Uint32(object[i : i+4]))
		sum1 = (sum1 + w) % modulus
		sum2 = (sum2 + sum1) % modulus
	}

	check1 := modulus - ((sum1 + sum2) % modulus)
	check2 := modulus - ((sum1 + check1) % modulus)
	return (check2 << 32) | check1
}

// verifyChecksum recomputes fletcher64 over object (which must include its
// own stored checksum at bytes 0..8) and compares it to that stored value.
func verifyChecksum(object []byte) bool {
	if len(object) < 8 {
		return false
	}
	stored := binary.LittleEndian.Uint64(object[0:8])
	return fletcher64(object) == stored
}
