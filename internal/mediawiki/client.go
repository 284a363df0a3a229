package mediawiki

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultUserAgent = "WikiMoves/1.0 (Go)"
	DefaultTimeout   = 30 * time.Second

	maxBodyBytes  = 16 << 20
	maxErrorBytes = 2 << 10
)

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) { c.insecure = skip }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithName labels log lines and observations, e.g. "primary" or "mirror".
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// Observer is told about every API round trip.
type Observer func(wiki, action, outcome string)

func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observe = o }
}

// Client is a session against one wiki's api.php. It owns the cookie jar,
// the login flag and the token cache, so each wiki gets its own Client.
type Client struct {
	apiURL     string
	name       string
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	insecure   bool
	log        *zap.Logger
	observe    Observer

	loggedIn bool
	username string
	password string
	tokens   map[string]string
}

func NewClient(apiURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", apiURL)
	}
	c := &Client{
		apiURL:    apiURL,
		name:      u.Host,
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		log:       zap.NewNop(),
		tokens:    make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: c.insecure}, //nolint:gosec // verification disabled by configuration
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	c.log = c.log.With(zap.String("wiki", c.name))
	return c, nil
}

func (c *Client) Name() string   { return c.name }
func (c *Client) APIURL() string { return c.apiURL }
func (c *Client) LoggedIn() bool { return c.loggedIn }

// Login runs the two-step login-token flow. It is a no-op once logged in.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if c.loggedIn {
		return nil
	}
	if username == "" || password == "" {
		return &Error{Op: "login", Kind: KindAuth, Err: ErrNoCredentials}
	}

	var tr tokensResponse
	if err := c.do(ctx, http.MethodGet, "login", url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {"login"},
	}, &tr); err != nil {
		return asAuth(err)
	}
	if tr.Error != nil {
		return asAuth(fromAPI("login", tr.Error))
	}
	if tr.Query.Tokens.LoginToken == "" {
		return &Error{Op: "login", Kind: KindAuth, Err: errors.New("no login token in response")}
	}

	var lr loginResponse
	if err := c.do(ctx, http.MethodPost, "login", url.Values{
		"action":     {"login"},
		"lgname":     {username},
		"lgpassword": {password},
		"lgtoken":    {tr.Query.Tokens.LoginToken},
	}, &lr); err != nil {
		return asAuth(err)
	}
	if lr.Error != nil {
		return asAuth(fromAPI("login", lr.Error))
	}
	if lr.Login.Result != "Success" {
		return &Error{
			Op:   "login",
			Kind: KindAuth,
			Code: lr.Login.Result,
			Err:  fmt.Errorf("%w: %s", ErrLoginRejected, lr.Login.Reason),
		}
	}
	c.loggedIn = true
	c.username, c.password = username, password
	c.log.Info("logged in", zap.String("user", lr.Login.LgName))
	return nil
}

// CSRFToken fetches the csrf token once per session and caches it.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens["csrf"]; ok {
		return tok, nil
	}
	var tr tokensResponse
	if err := c.do(ctx, http.MethodGet, "tokens", url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
	}, &tr); err != nil {
		return "", err
	}
	if tr.Error != nil {
		return "", fromAPI("tokens", tr.Error)
	}
	tok := tr.Query.Tokens.CSRFToken
	if tok == "" {
		return "", recovered("tokens", KindAPI, ErrNoCSRFToken)
	}
	c.tokens["csrf"] = tok
	return tok, nil
}

// Query issues action=query with the given options. On failure it returns an
// empty result together with a recovered *Error.
func (c *Client) Query(ctx context.Context, options url.Values) (QueryResult, error) {
	params := url.Values{"action": {"query"}}
	for k, vs := range options {
		params[k] = vs
	}
	var qr queryResponse
	if err := c.do(ctx, http.MethodGet, "query", params, &qr); err != nil {
		c.log.Warn("query failed", zap.Error(err))
		return QueryResult{}, err
	}
	if qr.Error != nil {
		err := fromAPI("query", qr.Error)
		c.log.Warn("query failed", zap.Error(err))
		return QueryResult{}, err
	}
	events := qr.Query.LogEvents
	if events == nil {
		events = []LogEvent{}
	}
	return QueryResult{LogEvents: events, Continue: qr.Continue}, nil
}

// QueryPages looks pages up by title or id and returns query.pages keyed by
// page id. On failure it returns an empty map and a recovered *Error.
func (c *Client) QueryPages(ctx context.Context, req PageRequest) (map[string]Page, error) {
	params := url.Values{"action": {"query"}}
	switch {
	case len(req.Titles) > 0:
		params.Set("titles", strings.Join(req.Titles, "|"))
	case len(req.PageIDs) > 0:
		ids := make([]string, len(req.PageIDs))
		for i, id := range req.PageIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		params.Set("pageids", strings.Join(ids, "|"))
	default:
		return map[string]Page{}, recovered("query_pages", KindAPI, ErrNoPageSelector)
	}
	for k, v := range req.Options {
		params.Set(k, v)
	}

	var qr queryResponse
	if err := c.do(ctx, http.MethodGet, "query_pages", params, &qr); err != nil {
		c.log.Warn("page query failed", zap.Error(err))
		return map[string]Page{}, err
	}
	if qr.Error != nil {
		err := fromAPI("query_pages", qr.Error)
		c.log.Warn("page query failed", zap.Error(err))
		return map[string]Page{}, err
	}
	if qr.Query.Pages == nil {
		return map[string]Page{}, nil
	}
	return qr.Query.Pages, nil
}

// Edit posts action=edit with a csrf token attached. A logged-in client
// asserts its user; if the wiki no longer knows the session, the client
// logs in again with the last credentials and retries once.
func (c *Client) Edit(ctx context.Context, p EditParams) (EditResult, error) {
	res, err := c.edit(ctx, p)
	if !isSessionLost(err) || c.username == "" {
		return res, err
	}
	c.log.Warn("session lost, logging in again", zap.Error(err))
	if lerr := c.Login(ctx, c.username, c.password); lerr != nil {
		return res, lerr
	}
	return c.edit(ctx, p)
}

func (c *Client) edit(ctx context.Context, p EditParams) (EditResult, error) {
	tok, err := c.CSRFToken(ctx)
	if err != nil {
		c.log.Error("edit aborted: no csrf token", zap.Error(err))
		return EditResult{Raw: map[string]any{"error": err.Error()}}, err
	}

	form := url.Values{
		"action":  {"edit"},
		"title":   {p.Title},
		"text":    {p.Text},
		"summary": {p.Summary},
		"token":   {tok},
	}
	if p.Section != "" {
		form.Set("section", p.Section)
	}
	if p.SectionTitle != "" {
		form.Set("sectiontitle", p.SectionTitle)
	}
	if p.NoCreate {
		form.Set("nocreate", "1")
	}
	if p.Bot {
		form.Set("bot", "1")
	}
	if c.loggedIn {
		form.Set("assert", "user")
	}

	var raw map[string]any
	if err := c.do(ctx, http.MethodPost, "edit", form, &raw); err != nil {
		c.log.Error("edit failed", zap.Error(err))
		return EditResult{Raw: map[string]any{"error": err.Error()}}, err
	}
	res := EditResult{Raw: raw}
	if e, ok := raw["error"].(map[string]any); ok {
		code, _ := e["code"].(string)
		info, _ := e["info"].(string)
		if code == codeBadToken || code == codeAssertUserFailed {
			c.resetSession()
		}
		err := fromAPI("edit", &apiError{Code: code, Info: info})
		c.log.Error("edit rejected", zap.Error(err))
		return res, err
	}
	if e, ok := raw["edit"].(map[string]any); ok {
		res.Result, _ = e["result"].(string)
		if rev, ok := e["newrevid"].(float64); ok {
			res.NewRevID = int64(rev)
		}
	}
	return res, nil
}

// Probe asks for siteinfo and reports the upstream HTTP status.
func (c *Client) Probe(ctx context.Context) (int, error) {
	params := url.Values{
		"action": {"query"},
		"meta":   {"siteinfo"},
		"format": {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (c *Client) do(ctx context.Context, method, op string, params url.Values, out any) error {
	body, err := c.roundTrip(ctx, method, op, params)
	if err != nil {
		c.record(op, "error")
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.record(op, "empty")
		return recovered(op, KindDecode, ErrEmptyResponse)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.record(op, "decode_error")
		c.log.Debug("undecodable response", zap.String("op", op), zap.String("body", snippet(body)))
		return recovered(op, KindDecode, err)
	}
	c.record(op, "ok")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, op string, params url.Values) ([]byte, error) {
	params.Set("format", "json")

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, recovered(op, KindTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, recovered(op, KindTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, recovered(op, KindHTTP, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, recovered(op, KindTransport, err)
	}
	return body, nil
}

func (c *Client) record(op, outcome string) {
	if c.observe != nil {
		c.observe(c.name, op, outcome)
	}
}

const (
	codeBadToken         = "badtoken"
	codeAssertUserFailed = "assertuserfailed"
)

// resetSession forgets the login and every cached token.
func (c *Client) resetSession() {
	c.loggedIn = false
	clear(c.tokens)
}

func isSessionLost(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Code == codeBadToken || e.Code == codeAssertUserFailed)
}

func asAuth(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: "login", Kind: KindAuth, Code: e.Code, Err: e.Err}
	}
	return &Error{Op: "login", Kind: KindAuth, Err: err}
}

func snippet(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
