// Package directory derives deterministic account addresses from
// namespace seeds and participant identities. Two nodes deriving an
// address for the same inputs always agree, and distinct input tuples
// can never collide because every part is length-prefixed before
// hashing.
package directory

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Namespaces for the account classes the market manages.
const (
	NamespaceKeyLedger = "key_ledger"
	NamespaceHolder    = "key_holder"
	NamespaceReserve   = "curve_reserve"
	NamespaceChatRoom  = "chat_room"
)

// Address is a 32-byte derived account address.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Derive hashes a namespace seed and an ordered tuple of identity parts
// into an Address. Each part is prefixed with its length so that
// ("ab", "c") and ("a", "bc") derive different addresses.
func Derive(namespace string, parts ...string) Address {
	h := sha256.New()
	writePart(h, namespace)
	for _, part := range parts {
		writePart(h, part)
	}

	var addr Address
	h.Sum(addr[:0])
	return addr
}

// DeriveShared derives the address of a two-party record. The parties
// are ordered canonically before hashing, so both sides derive the same
// address regardless of argument order.
func DeriveShared(namespace, a, b string) Address {
	pair := []string{a, b}
	sort.Strings(pair)
	return Derive(namespace, pair...)
}

func writePart(h hash.Hash, part string) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(part)))
	h.Write(prefix[:])
	h.Write([]byte(part))
}
