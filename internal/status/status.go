package status

import "wikimoves/internal/mediawiki"

type Status string

const (
	Exists   Status = "exists"
	Redirect Status = "redirect"
	Missing  Status = "missing"
	Unknown  Status = "unknown"
)

// Classify applies the rule in order: no page, redirect, missing, exists.
func Classify(p *mediawiki.Page) Status {
	switch {
	case p == nil:
		return Unknown
	case bool(p.Redirect):
		return Redirect
	case bool(p.Missing):
		return Missing
	default:
		return Exists
	}
}

// Table is the merged page info of one wiki, keyed by title.
type Table map[string]mediawiki.Page

func (t Table) Status(title string) Status {
	p, ok := t[title]
	if !ok {
		return Unknown
	}
	return Classify(&p)
}

func (t Table) merge(pages map[string]mediawiki.Page) {
	for _, p := range pages {
		if p.Title == "" {
			continue
		}
		t[p.Title] = p
	}
}
