package mio

import "bytes"

// sniffFraming inspects the first bytes read off a freshly-accepted
// connection and classifies it per spec.md's port-sharing compatibility
// surface: an embedded NUL means legacy Flash XMLSocket framing; a "GET "
// request line or a policy-file-request are handled by the caller's
// HTTP/Flash-policy hooks (mio only classifies, it doesn't serve them –
// that's an HTTPWrapper concern layered on top). Anything else is a
// normal XML stream and passes through unchanged.
func sniffFraming(chunk []byte) (kind Kind, rest []byte) {
	if bytes.IndexByte(chunk, 0) >= 0 {
		return KindLegacyFraming, bytes.ReplaceAll(chunk, []byte{0}, nil)
	}
	if bytes.HasPrefix(chunk, []byte("GET ")) || bytes.HasPrefix(chunk, []byte("<policy-file-request")) {
		return KindHTTPWrapper, chunk
	}
	return KindNormal, chunk
}
