package agent

import (
	"io"
	"net/http"
	"strings"
)

const cacheHeader = "X-Dashsync-Cache"

// Handler serves the dashboard shell through the agent, so a browser pointed
// at it gets the same policy the agent applies to in-process clients. The
// outcome is reported in the X-Dashsync-Cache response header.
func (a *Agent) Handler() http.Handler {
	return http.HandlerFunc(a.handle)
}

func (a *Agent) handle(w http.ResponseWriter, r *http.Request) {
	target := *a.shell
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		badGateway(w)
		return
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, outcome, err := a.intercept(req)
	if err != nil {
		a.log.Debugw("shell fetch failed", "path", r.URL.Path, "error", err)
		badGateway(w)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if strings.EqualFold(k, cacheHeader) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setCacheHeaders(w.Header(), string(outcome))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func badGateway(w http.ResponseWriter) {
	setCacheHeaders(w.Header(), "bad-gateway")
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func setCacheHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(cacheHeader, outcome)
	}
	// Custom headers are only readable by browser JS when exposed.
	ensureExposedHeader(h, cacheHeader)
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
