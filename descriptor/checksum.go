// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"
)

const (
	// inputCharset lists every character a descriptor may contain, ordered
	// so that the checksum groups them the way BIP-380 prescribes.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 alphabet used to render checksums.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// ChecksumLength is the number of characters in a descriptor checksum.
	ChecksumLength = 8
)

var checksumGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i, gen := range checksumGenerator {
		if (c0>>uint(i))&1 != 0 {
			c ^= gen
		}
	}

	return c
}

// Checksum computes the BIP-380 checksum of a descriptor string. The input
// must not already carry a checksum.
func Checksum(desc string) (string, error) {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)
	for i := 0; i < len(desc); i++ {
		pos := strings.IndexByte(inputCharset, desc[i])
		if pos < 0 {
			return "", fmt.Errorf("invalid character %q at position %d",
				desc[i], i)
		}

		// Emit a symbol for the position inside the group, for every
		// character.
		c = polymod(c, uint64(pos&31))

		// Accumulate the group numbers.
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			// Emit an extra symbol representing the group
			// numbers, for every 3 characters.
			c = polymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < ChecksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for i := 0; i < ChecksumLength; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-uint(i))))&31])
	}

	return sb.String(), nil
}

// AddChecksum returns the descriptor with its checksum appended after a '#'.
func AddChecksum(desc string) (string, error) {
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + sum, nil
}

// splitChecksum separates a descriptor from its optional checksum and
// verifies the checksum when one is present.
func splitChecksum(s string) (string, error) {
	idx := strings.IndexByte(s, '#')
	if idx < 0 {
		return s, nil
	}

	desc, sum := s[:idx], s[idx+1:]
	if len(sum) != ChecksumLength {
		return "", parseErrorf("checksum must be %d characters, got %d",
			ChecksumLength, len(sum))
	}

	expected, err := Checksum(desc)
	if err != nil {
		return "", &ParseError{Reason: "invalid descriptor", Err: err}
	}
	if expected != sum {
		return "", parseErrorf("checksum mismatch: expected %v, got %v",
			expected, sum)
	}

	return desc, nil
}
