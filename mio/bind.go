package mio

import (
	"context"

	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// ResourceAllocator picks or validates the resource part a client binds,
// returning the resource string to use (generating one if res is
// empty). cmd/jabberd wires this to a check against the user's jsm
// sessions to enforce uniqueness.
type ResourceAllocator func(res string) (string, error)

// BindFeature offers resource binding against owner (the authenticated
// bare JID) and reports the bound resource back through onBound so the
// caller can register the full JID.
func BindFeature(owner jid.JID, allocate ResourceAllocator, onBound func(resource string)) Feature {
	return Feature{
		Name:      "bind",
		NS:        ns.Bind,
		Necessary: NegAuthenticated,
		Prohibited: NegBound,
		Advertise: func(features *xmldom.Node) {
			features.AppendChild(xmldom.NewElement("bind", ns.Bind))
		},
		Negotiate: func(ctx context.Context, c *Conn, req *xmldom.Node) (NegState, error) {
			id, _ := req.Attribute("id", "")
			bindEl := req.Element("bind", ns.Bind)
			var requested string
			if bindEl != nil {
				if resEl := bindEl.Element("resource", ns.Bind); resEl != nil {
					requested = resEl.GetData()
				}
			}

			resource, err := allocate(requested)
			if err != nil {
				errIQ := xmldom.NewElement("iq", ns.Client)
				errIQ.SetAttr("type", "", "error")
				errIQ.SetAttr("id", "", id)
				c.WriteNode(errIQ, xmldom.StreamClient)
				return 0, nil
			}

			result := xmldom.NewElement("iq", ns.Client)
			result.SetAttr("type", "", "result")
			result.SetAttr("id", "", id)
			full := owner.WithResource(resource)
			bound := xmldom.NewElement("bind", ns.Bind)
			jidEl := xmldom.NewElement("jid", ns.Bind)
			jidEl.AppendText(full.String())
			bound.AppendChild(jidEl)
			result.AppendChild(bound)
			c.WriteNode(result, xmldom.StreamClient)

			onBound(resource)
			return NegBound, nil
		},
	}
}
