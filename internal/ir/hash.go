package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// DomainEdge is the hash domain for edge identity.
// The version suffix leaves room for a future algorithm change.
const DomainEdge = "relgraph/edge/v2"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The NUL separator removes any ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EdgeID computes the content-addressed identity of an edge.
// Identical (name, source, destination) triples always hash to the same
// ID, which is what makes repeated adds idempotent. The delete rule is
// not part of the identity.
//
// Fields are hashed as raw bytes, each prefixed with its length, so two
// triples share an ID only if every field is byte-for-byte equal. Strings
// are not normalized: the record store keys nodes by their exact bytes.
func EdgeID(name string, source, destination Node) string {
	fields := [...]string{name, source.Collection, source.Key, destination.Collection, destination.Key}
	size := 0
	for _, f := range fields {
		size += 8 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return hashWithDomain(DomainEdge, buf)
}
