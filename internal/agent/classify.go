package agent

import (
	"net/url"
	"strings"

	"dashsync/internal/config"
)

// Classifier maps a request URL to its caching class. First match wins:
// dynamic-data path, shell origin, trusted static host, everything else.
type Classifier struct {
	shellOrigin  string
	dynamic      config.Matchers
	trustedHosts []string
}

func NewClassifier(shell *url.URL, dynamic config.Matchers, trustedHosts []string) Classifier {
	hosts := make([]string, 0, len(trustedHosts))
	for _, h := range trustedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return Classifier{shellOrigin: origin(shell), dynamic: dynamic, trustedHosts: hosts}
}

func (c Classifier) Classify(u *url.URL) Class {
	if c.dynamic.Match(u.Path) {
		return DynamicData
	}
	if origin(u) == c.shellOrigin {
		return OwnOriginAsset
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range c.trustedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return ThirdPartyAsset
		}
	}
	return Uncached
}

// origin renders scheme://host:port with the default port made explicit.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + strings.ToLower(u.Hostname()) + ":" + port
}
