package mediawiki

import "strings"

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type tokensResponse struct {
	Error *apiError `json:"error,omitempty"`
	Query struct {
		Tokens struct {
			LoginToken string `json:"logintoken"`
			CSRFToken  string `json:"csrftoken"`
		} `json:"tokens"`
	} `json:"query"`
}

type loginResponse struct {
	Error *apiError `json:"error,omitempty"`
	Login struct {
		Result   string `json:"result"`
		Reason   string `json:"reason"`
		LgUserID int64  `json:"lguserid"`
		LgName   string `json:"lgname"`
	} `json:"login"`
}

type queryResponse struct {
	Error    *apiError         `json:"error,omitempty"`
	Continue map[string]string `json:"continue,omitempty"`
	Query    struct {
		LogEvents []LogEvent      `json:"logevents"`
		Pages     map[string]Page `json:"pages"`
		General   *struct {
			SiteName string `json:"sitename"`
		} `json:"general,omitempty"`
	} `json:"query"`
}

// LogEvent is one raw entry of list=logevents.
type LogEvent struct {
	LogID     int64     `json:"logid"`
	NS        int       `json:"ns"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	User      string    `json:"user"`
	Timestamp string    `json:"timestamp"`
	Comment   string    `json:"comment"`
	Params    LogParams `json:"params"`
}

type LogParams struct {
	TargetNS         int    `json:"target_ns"`
	TargetTitle      string `json:"target_title"`
	SuppressRedirect Flag   `json:"suppressredirect"`
}

// QueryResult is the part of an action=query response the log fetcher needs.
// Continue is nil once the list is exhausted.
type QueryResult struct {
	LogEvents []LogEvent
	Continue  map[string]string
}

// Page is one entry of query.pages. Missing pages carry negative ids.
type Page struct {
	PageID    int64      `json:"pageid"`
	NS        int        `json:"ns"`
	Title     string     `json:"title"`
	Redirect  Flag       `json:"redirect"`
	Missing   Flag       `json:"missing"`
	Invalid   Flag       `json:"invalid"`
	Touched   string     `json:"touched,omitempty"`
	Length    int        `json:"length,omitempty"`
	Redirects []Redirect `json:"redirects,omitempty"`
}

type Redirect struct {
	PageID int64  `json:"pageid"`
	NS     int    `json:"ns"`
	Title  string `json:"title"`
}

// PageRequest selects pages either by Titles or by PageIDs.
type PageRequest struct {
	Titles  []string
	PageIDs []int64
	Options map[string]string
}

// EditParams are the action=edit fields besides action, format and token.
type EditParams struct {
	Title        string
	Text         string
	Summary      string
	Section      string
	SectionTitle string
	NoCreate     bool
	Bot          bool
}

// EditResult carries the decoded edit response. Raw is the full JSON object.
type EditResult struct {
	Result   string
	NewRevID int64
	Raw      map[string]any
}

func (r EditResult) String() string {
	if r.Result == "" {
		return "no result"
	}
	return r.Result
}

// Flag decodes MediaWiki formatversion=1 boolean markers, which are present
// (usually as "") when true and absent when false.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	v := strings.TrimSpace(string(b))
	*f = Flag(v != "null" && v != "false")
	return nil
}
