package descriptor

import (
	"fmt"
	"strings"

	"github.com/bwt-dev/bwt/internal/model"
)

const (
	inputCharset    = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// Checksum computes the canonical descriptor checksum of the body (the
// descriptor string without a trailing "#checksum").
func Checksum(body string) (model.Checksum, error) {
	c := uint64(1)
	cls := uint64(0)
	clsCount := 0
	for _, ch := range body {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("invalid descriptor character %q", ch)
		}
		c = polyMod(c, uint64(pos)&31)
		cls = cls*3 + (uint64(pos) >> 5)
		clsCount++
		if clsCount == 3 {
			c = polyMod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for i := 0; i < 8; i++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	var out [8]byte
	for j := 0; j < 8; j++ {
		out[j] = checksumCharset[(c>>(5*(7-j)))&31]
	}
	return model.Checksum(out[:]), nil
}

func polyMod(c, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	if c0&1 > 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 > 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 > 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 > 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 > 0 {
		c ^= 0x644d626ffd
	}
	return c
}
