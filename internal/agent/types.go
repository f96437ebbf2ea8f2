package agent

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry is a stored response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

func newEntry(status int, h http.Header, body []byte) Entry {
	ent := Entry{
		Status:   status,
		Header:   cloneHeader(h),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	return ent
}

// OK reports a success status, the only kind of response that is stored.
func (e Entry) OK() bool { return e.Status >= 200 && e.Status < 300 }

// Response rebuilds an *http.Response for req. Each call gets its own body reader.
func (e Entry) Response(req *http.Request) *http.Response {
	h := cloneHeader(e.Header)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Class is the caching policy a request falls under.
type Class int

const (
	Uncached Class = iota
	DynamicData
	OwnOriginAsset
	ThirdPartyAsset
)

func (c Class) String() string {
	switch c {
	case DynamicData:
		return "dynamic"
	case OwnOriginAsset:
		return "own-origin"
	case ThirdPartyAsset:
		return "third-party"
	default:
		return "uncached"
	}
}

// Outcome describes how a request was answered.
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeBypass Outcome = "bypass"
)

// Identity is the store key of a request: method and absolute URL.
func Identity(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	return req.Method + " " + u.String()
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
