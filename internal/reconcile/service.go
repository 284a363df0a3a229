package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"wikimoves/internal/mediawiki"
	"wikimoves/internal/metrics"
	"wikimoves/internal/movelog"
	"wikimoves/internal/report"
	"wikimoves/internal/status"
)

var (
	ErrLogin          = errors.New("login failed")
	ErrRunInProgress  = errors.New("a run is already in progress")
	DefaultNamespaces = []int{0, 14, 10}
)

const historyTTL = 24 * time.Hour

// Wiki is the slice of mediawiki.Client the reconciler drives.
type Wiki interface {
	Name() string
	Login(ctx context.Context, username, password string) error
	Query(ctx context.Context, options url.Values) (mediawiki.QueryResult, error)
	QueryPages(ctx context.Context, req mediawiki.PageRequest) (map[string]mediawiki.Page, error)
	Edit(ctx context.Context, p mediawiki.EditParams) (mediawiki.EditResult, error)
}

type Credentials struct {
	Username string
	Password string
}

type Service interface {
	Run(ctx context.Context) error
	RunNamespace(ctx context.Context, ns int) (RunSummary, error)
	Runs() []RunSummary
}

// RunSummary describes one namespace pass.
type RunSummary struct {
	Namespace  int       `json:"namespace"`
	Events     int       `json:"events"`
	Titles     int       `json:"titles"`
	Lines      int       `json:"lines"`
	Skipped    int       `json:"skipped"`
	Filtered   int       `json:"filtered"`
	Posted     bool      `json:"posted"`
	DryRun     bool      `json:"dryRun"`
	EditResult string    `json:"editResult,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Option func(*service)

func WithNamespaces(ns []int) Option {
	return func(s *service) {
		if len(ns) > 0 {
			s.namespaces = append([]int(nil), ns...)
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithResolver(r *status.Resolver) Option {
	return func(s *service) { s.resolver = r }
}

func WithPublisher(p *report.Publisher) Option {
	return func(s *service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

type service struct {
	primary, mirror         Wiki
	primaryCred, mirrorCred Credentials

	namespaces []int
	window     time.Duration
	now        func() time.Time
	fetcher    *movelog.Fetcher
	resolver   *status.Resolver
	builder    *report.Builder
	publisher  *report.Publisher
	metrics    *metrics.Metrics
	log        *zap.Logger

	runMu   sync.Mutex
	mu      sync.Mutex
	history []RunSummary
}

// NewService wires the pipeline: the move log is read from primary and the
// report is posted to mirror.
func NewService(primary, mirror Wiki, primaryCred, mirrorCred Credentials, opts ...Option) Service {
	s := &service{
		primary:     primary,
		mirror:      mirror,
		primaryCred: primaryCred,
		mirrorCred:  mirrorCred,
		namespaces:  DefaultNamespaces,
		window:      movelog.DefaultSpan,
		now:         time.Now,
		builder:     report.NewBuilder(),
		log:         zap.NewNop(),
		history:     make([]RunSummary, 0, 16),
	}
	for _, o := range opts {
		o(s)
	}
	s.fetcher = movelog.NewFetcher(primary, movelog.WithLogger(s.log))
	if s.resolver == nil {
		s.resolver = status.NewResolver(status.WithLogger(s.log))
	}
	if s.publisher == nil {
		s.publisher = report.NewPublisher(mirror, report.WithPublisherLogger(s.log))
	}
	return s
}

// Run logs in to both wikis and then reports every namespace in turn. Only
// a login failure aborts; namespace failures are logged and recorded.
func (s *service) Run(ctx context.Context) error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	defer s.runMu.Unlock()

	for _, w := range []struct {
		wiki Wiki
		cred Credentials
	}{{s.primary, s.primaryCred}, {s.mirror, s.mirrorCred}} {
		s.log.Info("logging in", zap.String("wiki", w.wiki.Name()))
		if err := w.wiki.Login(ctx, w.cred.Username, w.cred.Password); err != nil {
			s.log.Error("login failed, aborting run", zap.String("wiki", w.wiki.Name()), zap.Error(err))
			return fmt.Errorf("%w: %s: %w", ErrLogin, w.wiki.Name(), err)
		}
	}

	for _, ns := range s.namespaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.runSafe(ctx, ns); err != nil {
			s.log.Error("namespace run failed", zap.Int("namespace", ns), zap.Error(err))
		}
	}
	return nil
}

func (s *service) runSafe(ctx context.Context, ns int) (sum RunSummary, err error) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in namespace %d: %v", ns, r)
			sum = RunSummary{Namespace: ns, StartedAt: start, DryRun: s.publisher.DryRun()}
			sum.Err = err.Error()
			sum.FinishedAt = s.now()
			s.record(sum)
		}
	}()
	return s.RunNamespace(ctx, ns)
}

// RunNamespace fetches, resolves, builds and publishes one namespace.
// Read failures degrade to empty results; the report is posted regardless.
func (s *service) RunNamespace(ctx context.Context, ns int) (RunSummary, error) {
	start := s.now()
	sum := RunSummary{Namespace: ns, StartedAt: start, DryRun: s.publisher.DryRun()}
	log := s.log.With(zap.Int("namespace", ns))
	label := strconv.Itoa(ns)
	window := movelog.NewWindow(start, s.window)

	warn := func(stage string, err error) {
		log.Warn(stage+" degraded", zap.Error(err))
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("%s: %v", stage, err))
	}
	fail := func(err error) (RunSummary, error) {
		sum.Err = err.Error()
		sum.FinishedAt = s.now()
		s.record(sum)
		return sum, err
	}

	log.Info("processing namespace", zap.Time("from", window.End), zap.Time("to", window.Start))
	events, err := s.fetcher.Fetch(ctx, ns, window)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		warn("move log", err)
	}
	sum.Events = len(events)

	titles := status.Titles(events)
	sum.Titles = len(titles)
	local, wiki := status.Table{}, status.Table{}
	if len(titles) > 0 {
		log.Info("resolving titles", zap.Int("titles", len(titles)))
		if local, err = s.resolver.Resolve(ctx, s.mirror, titles); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			warn("mirror status", err)
		}
		if wiki, err = s.resolver.Resolve(ctx, s.primary, titles); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			warn("primary status", err)
		}
	}

	rep := s.builder.Build(events, local, wiki)
	sum.Lines, sum.Skipped, sum.Filtered = len(rep.Lines), rep.Skipped, rep.Filtered
	for _, l := range rep.Lines {
		log.Debug("reported move",
			zap.String("from", l.Event.From),
			zap.String("to", l.Event.To),
			zap.String("local_from", string(l.LocalFrom)),
			zap.String("wiki_from", string(l.WikiFrom)),
			zap.String("local_to", string(l.LocalTo)))
	}

	res, err := s.publisher.Publish(ctx, ns, rep.Body(), window)
	sum.EditResult = res.String()
	if s.metrics != nil {
		s.metrics.MoveEvents.WithLabelValues(label).Add(float64(sum.Events))
		s.metrics.ReportLines.WithLabelValues(label).Add(float64(sum.Lines))
		s.metrics.Dropped.WithLabelValues(label, "reconciled").Add(float64(sum.Skipped))
		s.metrics.Dropped.WithLabelValues(label, "sensitive").Add(float64(sum.Filtered))
		s.metrics.RunDuration.WithLabelValues(label).Observe(s.now().Sub(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.Edits.WithLabelValues(label, "error").Inc()
		}
		return fail(err)
	}
	sum.Posted = !sum.DryRun
	if s.metrics != nil {
		s.metrics.Edits.WithLabelValues(label, res.String()).Inc()
		s.metrics.LastSuccess.WithLabelValues(label).SetToCurrentTime()
	}
	log.Info("namespace done",
		zap.Int("events", sum.Events),
		zap.Int("lines", sum.Lines),
		zap.Int("skipped", sum.Skipped),
		zap.Int("filtered", sum.Filtered),
		zap.String("edit", sum.EditResult),
		zap.Any("response", res.Raw))

	sum.FinishedAt = s.now()
	s.record(sum)
	return sum, nil
}

func (s *service) record(sum RunSummary) {
	keepAfter := s.now().Add(-historyTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.history[:0]
	for _, h := range s.history {
		if h.FinishedAt.After(keepAfter) {
			filtered = append(filtered, h)
		}
	}
	s.history = append(filtered, sum)
}

// Runs returns the namespace passes finished in the last 24 hours.
func (s *service) Runs() []RunSummary {
	keepAfter := s.now().Add(-historyTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunSummary, 0, len(s.history))
	for _, h := range s.history {
		if h.FinishedAt.After(keepAfter) {
			out = append(out, h)
		}
	}
	return out
}
