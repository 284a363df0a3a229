package movelog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wikimoves/internal/mediawiki"
)

const defaultMaxPages = 100

type Querier interface {
	Query(ctx context.Context, options url.Values) (mediawiki.QueryResult, error)
}

type Option func(*Fetcher)

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// WithMaxPages bounds how many continuation pages one Fetch follows.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

type Fetcher struct {
	wiki     Querier
	log      *zap.Logger
	maxPages int
}

func NewFetcher(wiki Querier, opts ...Option) *Fetcher {
	f := &Fetcher{wiki: wiki, log: zap.NewNop(), maxPages: defaultMaxPages}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch pages through the move log of namespace ns inside w. A failed page
// ends the scan; what was collected so far is returned with the error.
func (f *Fetcher) Fetch(ctx context.Context, ns int, w Window) ([]MoveEvent, error) {
	base := Options(ns, w)
	var cont map[string]string
	events := make([]MoveEvent, 0, 64)
	dropped := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		params := cloneValues(base)
		for k, v := range cont {
			params.Set(k, v)
		}

		res, err := f.wiki.Query(ctx, params)
		if err != nil {
			f.log.Warn("move log page failed, treating as end of log",
				zap.Int("namespace", ns), zap.Int("page", page), zap.Error(err))
			return events, err
		}
		for _, raw := range res.LogEvents {
			ev, ok := fromRaw(raw)
			if !ok || !w.Contains(ev.Timestamp) {
				dropped++
				continue
			}
			events = append(events, ev)
		}

		if len(res.Continue) == 0 {
			break
		}
		if sameContinue(cont, res.Continue) {
			return events, fmt.Errorf("move log: continuation did not advance at page %d", page)
		}
		if page >= f.maxPages {
			f.log.Warn("move log truncated", zap.Int("namespace", ns), zap.Int("max_pages", f.maxPages))
			break
		}
		cont = res.Continue
	}

	f.log.Info("move log fetched",
		zap.Int("namespace", ns), zap.Int("events", len(events)), zap.Int("dropped", dropped))
	return events, nil
}

// Options builds the list=logevents request for one namespace. The window is
// passed newest-first, which is the API's default ledir=older scan.
func Options(ns int, w Window) url.Values {
	return url.Values{
		"list":        {"logevents"},
		"leprop":      {"title|type|timestamp|comment|details|user|ids"},
		"letype":      {"move"},
		"lestart":     {w.Start.UTC().Format(time.RFC3339)},
		"leend":       {w.End.UTC().Format(time.RFC3339)},
		"ledir":       {"older"},
		"lenamespace": {strconv.Itoa(ns)},
		"lelimit":     {"max"},
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func sameContinue(a, b map[string]string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
