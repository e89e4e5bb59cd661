// Package fingerprint computes the stable request fingerprint used as
// the ResponseCache key (spec.md §3 "Request fingerprint").
package fingerprint

import (
	"crypto/sha256"

	"go.mongodb.org/mongo-driver/bson"
)

// Fingerprint is a stable byte string derived from {authenticated
// user, remote host, default database name, canonicalized request
// document}. Equal requests produce equal fingerprints; requests that
// differ only in document key order are not required to alias, so the
// canonicalization below marshals the document in its given key order
// rather than sorting keys.
type Fingerprint [sha256.Size]byte

// Compute derives the fingerprint of one request.
func Compute(user, host, defaultDB string, body bson.D) (Fingerprint, error) {
	canon, err := bson.Marshal(body)
	if err != nil {
		return Fingerprint{}, err
	}
	h := sha256.New()
	writeFramed := func(s string) {
		var lenBuf [4]byte
		n := uint32(len(s))
		lenBuf[0] = byte(n)
		lenBuf[1] = byte(n >> 8)
		lenBuf[2] = byte(n >> 16)
		lenBuf[3] = byte(n >> 24)
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeFramed(user)
	writeFramed(host)
	writeFramed(defaultDB)
	h.Write(canon)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}
