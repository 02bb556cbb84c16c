package xml

import (
	"strconv"
	"strings"
)

// Query evaluates a small XPath subset against n, returning the matching
// nodes in document order. Supported step forms:
//
//	child            match an element by local name, no namespace check
//	prefix:child      match an element by local name in a declared namespace
//	*                match any element
//	@attr            select an attribute node
//	@prefix:attr     select a namespace-qualified attribute node
//	text()           select the node's merged text content
//
// and one predicate per step: [@attr], [@attr='value'], or [N] (1-based
// positional index among sibling matches). Steps are separated by '/'; a
// leading '/' is ignored (paths are always evaluated relative to n).
func (n *Node) Query(path string, prefixes map[string]string) []*Node {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []*Node{n}
	}
	steps := strings.Split(path, "/")
	cur := []*Node{n}
	for _, raw := range steps {
		cur = evalStep(cur, raw, prefixes)
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}

type step struct {
	wildcard   bool
	attr       bool
	textFunc   bool
	prefix     string
	local      string
	predAttr   string // predicate attribute local name, "" if none
	predValue  string // predicate attribute required value, if predValSet
	predValSet bool
	predIndex  int // 1-based; 0 if none
}

func parseStep(raw string) step {
	s := step{}
	name := raw
	if i := strings.IndexByte(raw, '['); i >= 0 {
		name = raw[:i]
		pred := strings.TrimSuffix(raw[i+1:], "]")
		if strings.HasPrefix(pred, "@") {
			pred = pred[1:]
			if eq := strings.IndexByte(pred, '='); eq >= 0 {
				s.predAttr = pred[:eq]
				s.predValue = strings.Trim(pred[eq+1:], "'\"")
				s.predValSet = true
			} else {
				s.predAttr = pred
			}
		} else if idx, err := strconv.Atoi(pred); err == nil {
			s.predIndex = idx
		}
	}

	switch {
	case name == "*":
		s.wildcard = true
	case name == "text()":
		s.textFunc = true
	case strings.HasPrefix(name, "@"):
		s.attr = true
		name = name[1:]
		if c := strings.IndexByte(name, ':'); c >= 0 {
			s.prefix, s.local = name[:c], name[c+1:]
		} else {
			s.local = name
		}
	default:
		if c := strings.IndexByte(name, ':'); c >= 0 {
			s.prefix, s.local = name[:c], name[c+1:]
		} else {
			s.local = name
		}
	}
	return s
}

func evalStep(ctx []*Node, raw string, prefixes map[string]string) []*Node {
	s := parseStep(raw)
	var matches []*Node

	for _, n := range ctx {
		if s.textFunc {
			if data := n.GetData(); data != "" {
				matches = append(matches, &Node{Kind: KindText, Text: data, Parent: n})
			}
			continue
		}
		if s.attr {
			wantNS := prefixes[s.prefix]
			for _, a := range n.Attrs {
				if a.Local == s.local && (s.prefix == "" || a.NS == wantNS) {
					matches = append(matches, &Node{Kind: KindAttr, Local: a.Local, NS: a.NS, Text: a.Value, Parent: n})
				}
			}
			continue
		}

		var candidates []*Node
		wantNS, hasNS := prefixes[s.prefix]
		for _, c := range n.Elements() {
			if s.wildcard {
				candidates = append(candidates, c)
				continue
			}
			if c.Local != s.local {
				continue
			}
			if s.prefix != "" && hasNS && c.NS != wantNS {
				continue
			}
			candidates = append(candidates, c)
		}

		if s.predAttr != "" {
			var filtered []*Node
			for _, c := range candidates {
				val, ok := c.Attribute(s.predAttr, "")
				if !ok {
					continue
				}
				if s.predValSet && val != s.predValue {
					continue
				}
				filtered = append(filtered, c)
			}
			candidates = filtered
		}
		if s.predIndex > 0 {
			if s.predIndex <= len(candidates) {
				candidates = []*Node{candidates[s.predIndex-1]}
			} else {
				candidates = nil
			}
		}
		matches = append(matches, candidates...)
	}
	return matches
}

// BestLang picks the node among candidates whose xml:lang attribute best
// matches lang, falling back to a node with no xml:lang, then the first
// candidate. Used to resolve multiple <subject/>-style language variants.
func BestLang(candidates []*Node, lang string) *Node {
	if len(candidates) == 0 {
		return nil
	}
	var noLang *Node
	for _, c := range candidates {
		v, ok := c.Attribute("lang", "http://www.w3.org/XML/1998/namespace")
		if !ok {
			if noLang == nil {
				noLang = c
			}
			continue
		}
		if v == lang {
			return c
		}
	}
	if noLang != nil {
		return noLang
	}
	return candidates[0]
}
