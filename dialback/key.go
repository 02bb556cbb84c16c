// Package dialback implements XEP-0220 Server Dialback: deriving and
// verifying the HMAC key that lets two servers establish trust in a
// peer's hostname without a shared certificate authority.
package dialback

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
)

// LegacyKey reproduces pre-XEP-0185 jabberd14's plain-SHA1 key chain
// (dialback_merlin in original_source/jabberd14/dialback/dialback.c):
// three successive SHA1 hashes instead of the nested-HMAC construction
// Key uses. Only meaningful when talking to peers old enough to predate
// the HMAC revision; gated behind WithLegacyKeys, off by default.
func LegacyKey(secret, to, challenge string) string {
	h := sha1hex(secret)
	h = sha1hex(h + to)
	h = sha1hex(h + challenge)
	return h
}

func sha1hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Key derives the dialback key a server presents to recipient when
// claiming to be originator for the stream identified by streamID.
// Bit-exact with XEP-0220's reference derivation:
//
//	hex(HMAC-SHA1(HMAC-SHA1(secret, ""), recipient + originator + streamID))
//
// lowercase, 40 hex characters.
func Key(secret, recipient, originator, streamID string) string {
	innerMAC := hmac.New(sha1.New, []byte(secret))
	innerMAC.Write([]byte(""))
	inner := innerMAC.Sum(nil)

	outerMAC := hmac.New(sha1.New, inner)
	outerMAC.Write([]byte(recipient + originator + streamID))
	return hex.EncodeToString(outerMAC.Sum(nil))
}
