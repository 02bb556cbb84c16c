package mio

import (
	"context"
	"encoding/base64"

	"github.com/jabberd-go/jabberd/internal/ns"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

func saslDecode(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// AuthFunc validates a SASL PLAIN identity against a password store;
// cmd/jabberd wires this to the account store's Authenticate.
type AuthFunc func(authzid, authcid, password string) (bool, error)

// SASLFeature offers the given mechanisms and, for PLAIN, decodes and
// validates the initial response itself (the other mechanisms are left
// for a fuller SASL implementation to plug in via extra Negotiate-style
// wiring once needed).
func SASLFeature(mechanisms []string, auth AuthFunc) Feature {
	return Feature{
		Name:      "auth",
		NS:        ns.SASL,
		Necessary: NegSecure,
		Advertise: func(features *xmldom.Node) {
			el := xmldom.NewElement("mechanisms", ns.SASL)
			for _, m := range mechanisms {
				mech := xmldom.NewElement("mechanism", ns.SASL)
				mech.AppendText(m)
				el.AppendChild(mech)
			}
			features.AppendChild(el)
		},
		Negotiate: func(ctx context.Context, c *Conn, req *xmldom.Node) (NegState, error) {
			mechanism, _ := req.Attribute("mechanism", "")
			if mechanism != "PLAIN" {
				failure := xmldom.NewElement("failure", ns.SASL)
				failure.AppendChild(xmldom.NewElement("invalid-mechanism", ns.SASL))
				c.WriteNode(failure, xmldom.StreamServer)
				return 0, nil
			}

			authzid, authcid, password, ok := decodePlain(req.GetData())
			if !ok {
				failure := xmldom.NewElement("failure", ns.SASL)
				failure.AppendChild(xmldom.NewElement("incorrect-encoding", ns.SASL))
				c.WriteNode(failure, xmldom.StreamServer)
				return 0, nil
			}

			valid, err := auth(authzid, authcid, password)
			if err != nil {
				return 0, err
			}
			if !valid {
				failure := xmldom.NewElement("failure", ns.SASL)
				failure.AppendChild(xmldom.NewElement("not-authorized", ns.SASL))
				c.WriteNode(failure, xmldom.StreamServer)
				return 0, nil
			}

			c.WriteNode(xmldom.NewElement("success", ns.SASL), xmldom.StreamServer)
			c.ResetStream()
			return NegAuthenticated, nil
		},
	}
}

// decodePlain splits a base64'd SASL PLAIN response into
// authzid/authcid/password per RFC 4616: authzid NUL authcid NUL passwd.
func decodePlain(b64 string) (authzid, authcid, password string, ok bool) {
	raw, err := saslDecode(b64)
	if err != nil {
		return "", "", "", false
	}
	parts := splitNUL(raw, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func splitNUL(b []byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i, c := range b {
		if c == 0 {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(b[start:]))
	return out
}
