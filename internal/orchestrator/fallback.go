package orchestrator

import "strings"

// Vocabulary that marks a question as being about analytics or about the
// crawl table.
var (
	analyticsTerms = []string{
		"page view", "pageview", "views", "session", "users", "visitors",
		"traffic", "ga4", "google analytics", "bounce", "engagement",
		"conversion", "channel", "acquisition", "device", "country",
	}
	tableTerms = []string{
		"title", "url", "https", "http", "indexab", "meta", "canonical",
		"status code", "h1", "h2", "crawl", "redirect", "word count",
		"response time", "noindex", "description", "seo",
	}
)

// classifyByKeywords labels query without the oracle. Both vocabularies mean
// fusion; neither means analytics when a scope is present, else table.
func classifyByKeywords(query string, hasScope bool) Intent {
	q := strings.ToLower(query)
	a := containsAny(q, analyticsTerms)
	t := containsAny(q, tableTerms)
	switch {
	case a && t:
		return IntentFusion
	case a:
		return IntentAnalytics
	case t:
		return IntentTable
	case hasScope:
		return IntentAnalytics
	default:
		return IntentTable
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// wantsJSON reports whether query asks for raw data only ("as json", "in
// json format", ...).
func wantsJSON(query string) bool {
	return strings.Contains(strings.ToLower(query), "json")
}
