package orchestrator

import (
	"regexp"
	"strings"
)

// DefaultSearchPrefix is applied to free-text queries.
const DefaultSearchPrefix = "ytsearch:"

var searchPrefixes = []string{"ytsearch:", "ytmsearch:", "scsearch:", "spsearch:"}

var musicURL = regexp.MustCompile(`^(?i)https?://(www\.|m\.|music\.)?(youtube\.com|youtu\.be|soundcloud\.com|open\.spotify\.com|bandcamp\.com|[a-z0-9-]+\.bandcamp\.com|twitch\.tv|vimeo\.com)(/.*)?$`)

// NormalizeQuery trims the query and prefixes free text with the default
// search source. URLs and already prefixed searches are kept as they are.
func NormalizeQuery(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return ""
	}
	for _, p := range searchPrefixes {
		if strings.HasPrefix(q, p) {
			return q
		}
	}
	if musicURL.MatchString(q) {
		return q
	}
	return DefaultSearchPrefix + q
}
