package dgconsensus

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// computeBlockDigest hashes the deterministic encoding of a block.
//
// The encoding is length-prefixed throughout so that no two distinct
// blocks can share an encoding. It is not a wire format; blocks cross
// the network through the (out of scope) transport layer's codec.
func computeBlockDigest(b Block) BlockDigest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only reachable with a non-nil key argument.
		panic(err)
	}

	writeUint32(h, b.Round)
	writeUint32(h, uint32(b.Author))
	writeUint64(h, b.TimestampMs)

	writeUint32(h, uint32(len(b.Ancestors)))
	for _, a := range b.Ancestors {
		writeBlockRef(h, a)
	}

	writeUint32(h, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		writeUint32(h, uint32(len(tx)))
		_, _ = h.Write(tx)
	}

	writeUint32(h, uint32(len(b.TransactionVotes)))
	for _, v := range b.TransactionVotes {
		writeBlockRef(h, v.BlockRef)
		writeUint32(h, uint32(len(v.Rejects)))
		for _, r := range v.Rejects {
			writeUint16(h, r)
		}
	}

	var d BlockDigest
	h.Sum(d[:0])
	return d
}

func writeBlockRef(h hash.Hash, r BlockRef) {
	writeUint32(h, r.Round)
	writeUint32(h, uint32(r.Author))
	_, _ = h.Write(r.Digest[:])
}

func writeUint16(h hash.Hash, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, _ = h.Write(buf[:])
}

func writeUint32(h hash.Hash, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}
