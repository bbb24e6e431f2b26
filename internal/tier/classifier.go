// Package tier assigns each audited URL a strategic tier. Classification
// is a pure function of the URL and never fails: the default branch
// guarantees Tier 3.
package tier

import (
	"net/url"
	"strings"

	"brandaudit/internal/audit"
)

// socialHosts are the platforms routed to the off-site scoring path.
var socialHosts = []string{
	"linkedin.com",
	"instagram.com",
	"facebook.com",
	"twitter.com",
	"x.com",
}

// regionalTLDs mark country-market properties classified as Tier 2.
var regionalTLDs = []string{".be", ".nl", ".de", ".fr", ".lu"}

// Classifier maps URLs to tiers relative to a primary corporate domain.
type Classifier struct {
	primaryDomain string
}

// New creates a classifier anchored on the primary corporate domain
// (e.g. "corp.example.com"). An empty domain is legal; the first rule
// that can still match wins.
func New(primaryDomain string) *Classifier {
	return &Classifier{primaryDomain: strings.ToLower(strings.TrimSpace(primaryDomain))}
}

// Classify returns the tier for a URL. Rules apply in order: off-site
// social platforms, primary-domain pages of path depth <= 3, regional
// country domains, then the Tier 3 default.
func (c *Classifier) Classify(rawURL string) audit.Tier {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return audit.Tier3
	}
	host := strings.ToLower(u.Hostname())

	if IsSocial(host) {
		return audit.TierOffSite
	}

	if c.primaryDomain != "" && hostMatches(host, c.primaryDomain) && pathDepth(u.Path) <= 3 {
		return audit.Tier1
	}

	for _, tld := range regionalTLDs {
		if strings.HasSuffix(host, tld) {
			return audit.Tier2
		}
	}

	return audit.Tier3
}

// IsSocial reports whether the host belongs to a recognized social
// platform.
func IsSocial(host string) bool {
	host = strings.ToLower(host)
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// pathDepth counts non-empty path segments; "/" and "" are depth 0.
func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}
