package store

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressCode lz4-compresses code. It returns the input unchanged and
// false when compression does not shrink it.
func compressCode(code []byte) ([]byte, bool, error) {
	if len(code) == 0 {
		return code, false, nil
	}
	var c lz4.Compressor
	buf := make([]byte, lz4.CompressBlockBound(len(code)))
	n, err := c.CompressBlock(code, buf)
	if err != nil {
		return nil, false, fmt.Errorf("compress code: %w", err)
	}
	if n == 0 || n >= len(code) {
		return code, false, nil
	}
	return buf[:n], true, nil
}

// decompressCode reverses compressCode; size is the original length.
func decompressCode(data []byte, compressed bool, size int) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("decompress code: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("decompress code: got %d bytes, want %d", n, size)
	}
	return out, nil
}
