package report

import (
	"fmt"
	"strings"

	"wikimoves/internal/movelog"
	"wikimoves/internal/status"
)

const NoMovesText = "אין העברות חדשות בבדיקה זו.\n"

var statusLabels = map[status.Status]string{
	status.Exists:   "קיים",
	status.Redirect: "הפניה",
	status.Missing:  "לא קיים",
	status.Unknown:  "???",
}

func Label(s status.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return statusLabels[status.Unknown]
}

// Line is one reported move with the statuses it was judged on.
type Line struct {
	Event     movelog.MoveEvent `json:"event"`
	LocalFrom status.Status     `json:"localFrom"`
	WikiFrom  status.Status     `json:"wikiFrom"`
	LocalTo   status.Status     `json:"localTo"`
}

func (l Line) String() string {
	return fmt.Sprintf("* [[:%s]] <small>(מ: %s, w: %s)</small> => [[:%s]] <small>(%s)</small>\n",
		l.Event.From, Label(l.LocalFrom), Label(l.WikiFrom), l.Event.To, Label(l.LocalTo))
}

type Report struct {
	Lines []Line
	// Skipped counts moves already reconciled on the mirror.
	Skipped int
	// Filtered counts moves dropped by the sensitive-title filter.
	Filtered int
}

// Body renders the bullet list, or NoMovesText when nothing is left.
func (r Report) Body() string {
	if len(r.Lines) == 0 {
		return NoMovesText
	}
	var b strings.Builder
	for _, l := range r.Lines {
		b.WriteString(l.String())
	}
	return b.String()
}

type Builder struct {
	filter *SensitiveFilter
}

func NewBuilder() *Builder {
	return &Builder{filter: NewSensitiveFilter()}
}

// Build joins events with the mirror (local) and primary (wiki) tables.
func (b *Builder) Build(events []movelog.MoveEvent, local, wiki status.Table) Report {
	var r Report
	for _, e := range events {
		line := Line{
			Event:     e,
			LocalFrom: local.Status(e.From),
			WikiFrom:  wiki.Status(e.From),
			LocalTo:   local.Status(e.To),
		}
		if b.filter.Match(e.From) || b.filter.Match(e.To) {
			r.Filtered++
			continue
		}
		if line.LocalFrom == line.WikiFrom && line.LocalTo == status.Exists {
			r.Skipped++
			continue
		}
		r.Lines = append(r.Lines, line)
	}
	return r
}
