// Package recommend turns crawl findings into proposed tracking events
// and a readiness summary.
package recommend

import (
	"net/url"
	"strings"
)

type pageTypeRule struct {
	pageType string
	tokens   []string
}

// Ordered; the first matching rule wins. More specific commerce pages
// come before the generic content buckets.
var pageTypeRules = []pageTypeRule{
	{"checkout", []string{"checkout", "cart", "basket"}},
	{"booking", []string{"book", "appointment", "schedule", "reservation"}},
	{"pricing", []string{"pricing", "plans", "rates"}},
	{"product", []string{"product", "shop", "store", "item"}},
	{"services", []string{"service", "practice-area", "treatment"}},
	{"contact", []string{"contact", "get-in-touch", "location"}},
	{"about", []string{"about", "team", "our-story", "staff"}},
	{"blog", []string{"blog", "news", "article", "post", "resources"}},
	{"careers", []string{"career", "jobs", "join-us"}},
	{"faq", []string{"faq", "help", "support"}},
	{"login", []string{"login", "signin", "sign-in", "account", "portal"}},
	{"testimonials", []string{"testimonial", "review", "case-stud"}},
}

// ClassifyPageType buckets a page by its URL path and title. The
// homepage is recognized by an empty or root path.
func ClassifyPageType(pageURL, title string) string {
	path := ""
	if u, err := url.Parse(pageURL); err == nil {
		path = strings.ToLower(u.Path)
	}
	if path == "" || path == "/" {
		return "homepage"
	}

	lowerTitle := strings.ToLower(title)
	for _, rule := range pageTypeRules {
		for _, token := range rule.tokens {
			if strings.Contains(path, token) || strings.Contains(lowerTitle, token) {
				return rule.pageType
			}
		}
	}
	return "general"
}
