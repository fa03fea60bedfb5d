// Package filter rejects promotional bulk mail before it reaches the
// notification pipeline.
package filter

import "strings"

// Subjects containing any of these fragments are treated as
// promotional. The bracket characters catch the decorated subjects
// Japanese bulk senders favor.
var defaultKeywords = []string{
	"セール", "特価", "割引", "キャンペーン", "無料", "プレゼント", "進呈",
	"特集", "大特集", "お得", "お見積り", "WEBセミナー", "交流会",
	"出展", "展示会", "イベント", "ニュースレター", "通信",
	"【", "】", "〈", "〉", "『", "』",
}

// Sender addresses containing any of these fragments are known bulk
// mail sources.
var defaultDomains = []string{
	"mitsumi", "misumi", "ipros", "nidec", "rohde", "jooto",
}

// Qualifier decides whether a message qualifies for notification.
type Qualifier struct {
	keywords []string
	domains  []string
}

// New creates a Qualifier. Empty keyword or domain lists fall back to
// the built-in defaults.
func New(keywords, domains []string) *Qualifier {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	if len(domains) == 0 {
		domains = defaultDomains
	}
	return &Qualifier{keywords: keywords, domains: domains}
}

// Qualifies reports whether a message with the given subject and
// sender should be notified. Promotional subjects and known bulk
// sender domains are rejected.
func (q *Qualifier) Qualifies(subject, from string) bool {
	s := strings.ToLower(subject)
	f := strings.ToLower(from)

	for _, kw := range q.keywords {
		if strings.Contains(s, strings.ToLower(kw)) {
			return false
		}
	}
	for _, d := range q.domains {
		if strings.Contains(f, d) {
			return false
		}
	}
	return true
}
