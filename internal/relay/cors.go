package relay

import (
	"net/http"
	"strconv"
	"strings"

	"dashsync/internal/config"
)

// originPolicy decides the Access-Control-Allow-Origin value for a caller.
//
// A request without an Origin header gets "*". That covers same-origin
// navigation only and is not a trust boundary. A present but unknown origin is
// echoed back unless strict is set.
type originPolicy struct {
	allow    map[string]struct{}
	suffixes []string
	strict   bool
	maxAge   int
}

func newOriginPolicy(c config.CORS) originPolicy {
	p := originPolicy{
		allow:  make(map[string]struct{}, len(c.AllowOrigins)),
		strict: c.Strict,
		maxAge: c.MaxAge,
	}
	for _, o := range c.AllowOrigins {
		p.allow[strings.TrimRight(o, "/")] = struct{}{}
	}
	for _, s := range c.AllowSuffixes {
		if s != "" {
			p.suffixes = append(p.suffixes, s)
		}
	}
	if p.maxAge <= 0 {
		p.maxAge = 86400
	}
	return p
}

func (p originPolicy) known(origin string) bool {
	if _, ok := p.allow[origin]; ok {
		return true
	}
	for _, s := range p.suffixes {
		if strings.HasSuffix(origin, s) {
			return true
		}
	}
	return false
}

// resolve returns the value to send and false when the header must be omitted.
func (p originPolicy) resolve(origin string) (string, bool) {
	switch {
	case origin == "":
		return "*", true
	case p.known(origin):
		return origin, true
	case p.strict:
		return "", false
	default:
		return origin, true
	}
}

func (p originPolicy) apply(h http.Header, origin string) {
	if v, ok := p.resolve(origin); ok {
		h.Set("Access-Control-Allow-Origin", v)
		if v != "*" {
			h.Add("Vary", "Origin")
		}
	}
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", strconv.Itoa(p.maxAge))
}
