package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"wikimoves/internal/mediawiki"
	"wikimoves/internal/movelog"
)

const (
	DefaultPage    = "משתמש:מוטי בוט/יומן העברות ויקי"
	DefaultSummary = `דו"ח העברות ויקי שבועי`
	DefaultMention = "@[[משתמש:נריה|נריה]]"

	DryRunResult = "DryRun"
)

var namespaceNames = map[int]string{
	0:  "ערכים",
	10: "תבניות",
	14: "קטגוריות",
}

func NamespaceName(ns int) string {
	if n, ok := namespaceNames[ns]; ok {
		return n
	}
	return "אחר"
}

type Editor interface {
	Edit(ctx context.Context, p mediawiki.EditParams) (mediawiki.EditResult, error)
}

type PublisherOption func(*Publisher)

func WithPage(title string) PublisherOption {
	return func(p *Publisher) {
		if title != "" {
			p.page = title
		}
	}
}

func WithSummary(s string) PublisherOption {
	return func(p *Publisher) {
		if s != "" {
			p.summary = s
		}
	}
}

// WithMention sets the signature prefix that pings the page maintainer.
func WithMention(m string) PublisherOption {
	return func(p *Publisher) { p.mention = m }
}

func WithLocation(loc *time.Location) PublisherOption {
	return func(p *Publisher) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithDryRun writes sections to w instead of editing the wiki.
func WithDryRun(w io.Writer) PublisherOption {
	return func(p *Publisher) { p.dryRun = w }
}

func WithPublisherLogger(l *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

type Publisher struct {
	wiki    Editor
	page    string
	summary string
	mention string
	loc     *time.Location
	dryRun  io.Writer
	log     *zap.Logger
}

func NewPublisher(wiki Editor, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		wiki:    wiki,
		page:    DefaultPage,
		summary: DefaultSummary,
		mention: DefaultMention,
		loc:     time.UTC,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) DryRun() bool { return p.dryRun != nil }

// Section builds the new-section edit for one namespace. nocreate is set:
// the report page must already exist.
func (p *Publisher) Section(ns int, body string, w movelog.Window) mediawiki.EditParams {
	from := w.End.In(p.loc).Format("2006-01-02")
	to := w.Start.In(p.loc).Format("2006-01-02 15:04:05")
	text := fmt.Sprintf("{{טורים|תוכן=\n%s}}\n%s - דו\"ח העברות מתאריך %s עד %s. ~~~~", body, p.mention, from, to)
	return mediawiki.EditParams{
		Title:        p.page,
		Text:         text,
		Summary:      p.summary,
		Section:      "new",
		SectionTitle: fmt.Sprintf("%s - %s", p.summary, NamespaceName(ns)),
		NoCreate:     true,
	}
}

func (p *Publisher) Publish(ctx context.Context, ns int, body string, w movelog.Window) (mediawiki.EditResult, error) {
	params := p.Section(ns, body, w)
	if p.dryRun != nil {
		if _, err := fmt.Fprintf(p.dryRun, "== %s ==\n%s\n\n", params.SectionTitle, params.Text); err != nil {
			return mediawiki.EditResult{}, fmt.Errorf("write dry run: %w", err)
		}
		return mediawiki.EditResult{Result: DryRunResult}, nil
	}

	res, err := p.wiki.Edit(ctx, params)
	if err != nil {
		return res, fmt.Errorf("publish namespace %d: %w", ns, err)
	}
	p.log.Info("report published",
		zap.Int("namespace", ns),
		zap.String("page", params.Title),
		zap.String("result", res.Result),
		zap.Int64("revision", res.NewRevID))
	return res, nil
}
