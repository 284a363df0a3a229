package status

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wikimoves/internal/mediawiki"
	"wikimoves/internal/movelog"
)

const (
	DefaultBatchSize = 10
	DefaultInterval  = 500 * time.Millisecond
)

type PageQuerier interface {
	QueryPages(ctx context.Context, req mediawiki.PageRequest) (map[string]mediawiki.Page, error)
}

type Option func(*Resolver)

func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithInterval sets the pause between batch queries. Zero disables pacing.
func WithInterval(d time.Duration) Option {
	return func(r *Resolver) { r.interval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

type Resolver struct {
	batchSize int
	interval  time.Duration
	log       *zap.Logger
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks every title up in batches. A failed batch is logged and its
// titles stay unknown; the last such error is returned.
func (r *Resolver) Resolve(ctx context.Context, wiki PageQuerier, titles []string) (Table, error) {
	table := make(Table, len(titles))
	batches := Batch(titles, r.batchSize)
	if len(batches) == 0 {
		return table, nil
	}

	limit := rate.Inf
	if r.interval > 0 {
		limit = rate.Every(r.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var lastErr error
	done := 0
	for i, batch := range batches {
		if err := limiter.Wait(ctx); err != nil {
			return table, err
		}
		done += len(batch)
		r.log.Debug("querying batch",
			zap.Int("batch", i+1), zap.Int("done", done), zap.Int("total", len(titles)))

		pages, err := wiki.QueryPages(ctx, mediawiki.PageRequest{
			Titles: batch,
			Options: map[string]string{
				"prop":   "info|redirects",
				"rdprop": "title",
			},
		})
		if err != nil {
			r.log.Warn("batch failed", zap.Int("batch", i+1), zap.Strings("titles", batch), zap.Error(err))
			lastErr = err
			continue
		}
		table.merge(pages)
	}
	return table, lastErr
}

// Titles collects the distinct source and destination titles, sorted.
func Titles(events []movelog.MoveEvent) []string {
	seen := make(map[string]struct{}, len(events)*2)
	for _, e := range events {
		seen[e.From] = struct{}{}
		seen[e.To] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Batch splits titles into consecutive chunks of at most size.
func Batch(titles []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	total := len(titles)
	out := make([][]string, 0, (total+size-1)/size)
	for offset := 0; offset < total; offset += size {
		end := offset + size
		if end > total {
			end = total
		}
		out = append(out, titles[offset:end])
	}
	return out
}
