package mio

import (
	"context"
	"crypto/tls"

	"github.com/jabberd-go/jabberd/internal/ns"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// StartTLSFeature offers STARTTLS and, once negotiated, upgrades c's
// transport and arms ResetStream so the next feed starts a fresh parser
// over the encrypted channel.
func StartTLSFeature(config *tls.Config) Feature {
	return Feature{
		Name:       "starttls",
		NS:         ns.TLS,
		Prohibited: NegSecure,
		Advertise: func(features *xmldom.Node) {
			el := xmldom.NewElement("starttls", ns.TLS)
			el.AppendChild(xmldom.NewElement("required", ns.TLS))
			features.AppendChild(el)
		},
		Negotiate: func(ctx context.Context, c *Conn, req *xmldom.Node) (NegState, error) {
			proceed := xmldom.NewElement("proceed", ns.TLS)
			c.WriteNode(proceed, xmldom.StreamServer)
			if err := c.trans.StartTLS(config); err != nil {
				return 0, err
			}
			c.ResetStream()
			return NegSecure, nil
		},
	}
}
