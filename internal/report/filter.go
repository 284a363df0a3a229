package report

import (
	"regexp"
	"strings"
)

var sensitiveKeywords = []string{
	"BDSM",
	`להט"ב`,
	`לט"ב`,
	`להטב"ק`,
	"לסבית",
	"לסביות",
	"סקסואל",
	"קסואל",
	"מצעד הגאווה",
	"מיניות",
	"פורנוגרפיה",
	"[[פין]]",
	"[[פות]]",
}

// SensitiveFilter matches titles the mirror does not want reported.
type SensitiveFilter struct {
	re *regexp.Regexp
}

func NewSensitiveFilter() *SensitiveFilter {
	quoted := make([]string, len(sensitiveKeywords))
	for i, k := range sensitiveKeywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return &SensitiveFilter{re: regexp.MustCompile("(" + strings.Join(quoted, "|") + ")")}
}

func (f *SensitiveFilter) Match(title string) bool {
	return f.re.MatchString(title)
}
