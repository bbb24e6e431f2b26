package audit

import "strings"

// Slug converts a canonical URL into the filesystem-safe identifier used
// for artifact names and page ids. The scheme is dropped, the trailing
// slash trimmed, and both periods and slashes become underscores:
//
//	https://corp.example.com/pricing -> corp_example_com_pricing
//
// The mapping is intentionally stable: page ids are content-addressed from
// the slug, so any change here breaks cross-run identity.
func Slug(rawURL string) string {
	s := rawURL
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(s, scheme) {
			s = strings.TrimPrefix(s, scheme)
			break
		}
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "&", "_")
	s = strings.ReplaceAll(s, "=", "_")
	s = strings.ReplaceAll(s, "#", "_")
	s = strings.ReplaceAll(s, ":", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// URLFromSlug is the documented best-effort inverse of Slug, used by the
// packager only when a scorecard is missing its URL header line. The
// underscore encoding is lossy (periods and slashes collapse to the same
// character), so the inversion assumes a bare host: every underscore maps
// back to a period.
func URLFromSlug(slug string) string {
	if slug == "" {
		return ""
	}
	return "https://" + strings.ReplaceAll(slug, "_", ".")
}
