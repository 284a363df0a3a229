package movelog_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimoves/internal/mediawiki"
	"wikimoves/internal/mediawiki/mediawikitest"
	"wikimoves/internal/movelog"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type scriptedQuerier struct {
	pages []mediawiki.QueryResult
	errAt int
	calls []url.Values
}

func (q *scriptedQuerier) Query(_ context.Context, options url.Values) (mediawiki.QueryResult, error) {
	q.calls = append(q.calls, options)
	i := len(q.calls) - 1
	if q.errAt > 0 && i+1 == q.errAt {
		return mediawiki.QueryResult{}, &mediawiki.Error{Op: "query", Kind: mediawiki.KindTransport, Recovered: true, Err: errors.New("boom")}
	}
	return q.pages[i], nil
}

func move(from, to string, ts time.Time) mediawiki.LogEvent {
	return mediawiki.LogEvent{
		Title:     from,
		Type:      "move",
		Timestamp: ts.Format(time.RFC3339),
		Params:    mediawiki.LogParams{TargetTitle: to},
	}
}

func TestNewWindow_IsNewestFirst(t *testing.T) {
	w := movelog.NewWindow(now, 0)

	assert.Equal(t, now, w.Start)
	assert.Equal(t, now.Add(-7*24*time.Hour), w.End)
	assert.True(t, w.Start.After(w.End))
}

func TestOptions_WindowDirection(t *testing.T) {
	w := movelog.NewWindow(now, 0)
	opts := movelog.Options(14, w)

	assert.Equal(t, "2024-03-10T12:00:00Z", opts.Get("lestart"))
	assert.Equal(t, "2024-03-03T12:00:00Z", opts.Get("leend"))
	assert.Equal(t, "older", opts.Get("ledir"))
	assert.Equal(t, "move", opts.Get("letype"))
	assert.Equal(t, "14", opts.Get("lenamespace"))
	assert.Equal(t, "max", opts.Get("lelimit"))
}

func TestWindow_BoundariesInclusive(t *testing.T) {
	w := movelog.NewWindow(now, 0)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start", w.Start, true},
		{"end", w.End, true},
		{"middle", now.Add(-72 * time.Hour), true},
		{"after start", w.Start.Add(time.Second), false},
		{"before end", w.End.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.at))
		})
	}
}

func TestFetch_FollowsContinuation(t *testing.T) {
	q := &scriptedQuerier{pages: []mediawiki.QueryResult{
		{
			LogEvents: []mediawiki.LogEvent{move("A", "B", now.Add(-time.Hour))},
			Continue:  map[string]string{"lecontinue": "20240310|5", "continue": "-||"},
		},
		{
			LogEvents: []mediawiki.LogEvent{move("C", "D", now.Add(-2*time.Hour))},
		},
	}}

	events, err := movelog.NewFetcher(q).Fetch(context.Background(), 0, movelog.NewWindow(now, 0))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].From)
	assert.Equal(t, "B", events[0].To)
	assert.Equal(t, "D", events[1].To)

	require.Len(t, q.calls, 2)
	assert.Empty(t, q.calls[0].Get("lecontinue"))
	assert.Equal(t, "20240310|5", q.calls[1].Get("lecontinue"))
	assert.Equal(t, "-||", q.calls[1].Get("continue"))
	assert.Equal(t, q.calls[0].Get("lestart"), q.calls[1].Get("lestart"))
}

func TestFetch_DropsOutOfWindowAndMalformed(t *testing.T) {
	w := movelog.NewWindow(now, 0)
	q := &scriptedQuerier{pages: []mediawiki.QueryResult{{
		LogEvents: []mediawiki.LogEvent{
			move("Edge start", "X", w.Start),
			move("Edge end", "Y", w.End),
			move("Too old", "Z", w.End.Add(-time.Second)),
			move("Future", "Q", w.Start.Add(time.Minute)),
			move("No target", "", now.Add(-time.Hour)),
			{Title: "Bad time", Timestamp: "yesterday", Params: mediawiki.LogParams{TargetTitle: "T"}},
		},
	}}}

	events, err := movelog.NewFetcher(q).Fetch(context.Background(), 0, w)

	require.NoError(t, err)
	titles := make([]string, 0, len(events))
	for _, e := range events {
		titles = append(titles, e.From)
	}
	assert.Equal(t, []string{"Edge start", "Edge end"}, titles)
}

func TestFetch_FailedPageKeepsEarlierEvents(t *testing.T) {
	q := &scriptedQuerier{
		errAt: 2,
		pages: []mediawiki.QueryResult{{
			LogEvents: []mediawiki.LogEvent{move("A", "B", now.Add(-time.Hour))},
			Continue:  map[string]string{"lecontinue": "1"},
		}},
	}

	events, err := movelog.NewFetcher(q).Fetch(context.Background(), 0, movelog.NewWindow(now, 0))

	require.Error(t, err)
	assert.True(t, mediawiki.IsRecovered(err))
	assert.Len(t, events, 1)
}

func TestFetch_StuckContinuationStops(t *testing.T) {
	stuck := mediawiki.QueryResult{Continue: map[string]string{"lecontinue": "same"}}
	q := &scriptedQuerier{pages: []mediawiki.QueryResult{stuck, stuck, stuck}}

	_, err := movelog.NewFetcher(q).Fetch(context.Background(), 0, movelog.NewWindow(now, 0))

	require.Error(t, err)
	assert.Len(t, q.calls, 2)
}

func TestFetch_AgainstWiki(t *testing.T) {
	srv := mediawikitest.NewServer()
	defer srv.Close()
	srv.LogPageSize = 2
	ts := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	for _, p := range [][2]string{{"A", "A2"}, {"B", "B2"}, {"C", "C2"}, {"D", "D2"}, {"E", "E2"}} {
		srv.AddMove(10, p[0], p[1], ts)
	}
	srv.AddMove(0, "Other", "Namespace", ts)

	c, err := mediawiki.NewClient(srv.APIURL())
	require.NoError(t, err)

	events, err := movelog.NewFetcher(c).Fetch(context.Background(), 10, movelog.NewWindow(time.Now(), 0))

	require.NoError(t, err)
	assert.Len(t, events, 5)
	pages := srv.Count(func(r mediawikitest.Request) bool { return r.Params.Get("list") == "logevents" })
	assert.Equal(t, 3, pages)
}

func TestFetch_EmptyLogOnWikiFailure(t *testing.T) {
	srv := mediawikitest.NewServer()
	defer srv.Close()
	srv.Status["logevents"] = http.StatusServiceUnavailable

	c, err := mediawiki.NewClient(srv.APIURL())
	require.NoError(t, err)

	events, err := movelog.NewFetcher(c).Fetch(context.Background(), 0, movelog.NewWindow(time.Now(), 0))

	assert.True(t, mediawiki.IsRecovered(err))
	assert.Empty(t, events)
}
