package crawler

import "strings"

// HostBlocklist matches hosts the service refuses to crawl. Entries are exact hosts
// ("facebook.com") or suffix wildcards ("*.gov" or ".gov"). A nil list blocks nothing.
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist builds a blocklist from patterns. It returns nil when no pattern is usable.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	b := &HostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *HostBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocked reports whether host, or its www-less form, matches an entry.
func (b *HostBlocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	for _, candidate := range []string{host, strings.TrimPrefix(host, "www.")} {
		if _, ok := b.exact[candidate]; ok {
			return true
		}
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
