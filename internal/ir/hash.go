package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBlock = "vmtier/block/v1"
)

// BlockHash is the hex-encoded content hash of a block.
type BlockHash string

// Short returns the first 12 hex digits, for logs and reports.
func (h BlockHash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) BlockHash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return BlockHash(hex.EncodeToString(h.Sum(nil)))
}

// ContentHash computes the memoization key for a block.
//
// The key covers the start address, the opcode sequence, the op count and
// the terminator kind. Operands are NOT hashed: two blocks at the same
// address with the same opcode shape collide, and callers treat a collision
// as semantic equality. Self-modifying guests must invalidate explicitly.
func ContentHash(b *Block) BlockHash {
	buf := make([]byte, 0, 8+len(b.Ops)+8+1)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.StartPC))
	for _, op := range b.Ops {
		buf = append(buf, byte(op.Code))
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(b.Ops)))
	buf = append(buf, byte(b.Term.Kind))
	return hashWithDomain(DomainBlock, buf)
}
