package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"dashsync/internal/config"
)

const shell = "https://dash.example.org"

var errNetworkDown = errors.New("network down")

// fakeNet is a scripted network keyed by absolute URL.
type fakeNet struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	calls  map[string]int
	down   bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{bodies: map[string]string{}, status: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeNet) set(u, body string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[u] = body
	f.status[u] = status
}

func (f *fakeNet) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeNet) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func (f *fakeNet) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := req.URL.String()
	f.calls[u]++
	if f.down {
		return nil, errNetworkDown
	}
	status, ok := f.status[u]
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(f.bodies[u])),
		Request:    req,
	}, nil
}

func testConfig() config.Agent {
	cfg := config.Default().Agent
	cfg.ShellOrigin = shell
	cfg.Precache = []string{"/", "/app.js"}
	return cfg
}

func newTestAgent(t *testing.T, net *fakeNet, st Storage) *Agent {
	t.Helper()
	net.set(shell+"/", "<html>shell</html>", http.StatusOK)
	net.set(shell+"/app.js", "app v1", http.StatusOK)

	a, err := New(testConfig(), st, net, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func get(t *testing.T, client *http.Client, u string) (string, error) {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b), nil
}

func TestClassify(t *testing.T) {
	a, err := New(testConfig(), NewMemoryStorage(0), newFakeNet(), nil)
	require.NoError(t, err)

	tests := []struct {
		url  string
		want Class
	}{
		{shell + "/api/fetchAllDashboardData", DynamicData},
		{"https://cdn.jsdelivr.net/api/x", DynamicData},
		{shell + "/app.js", OwnOriginAsset},
		{"https://dash.example.org:443/style.css", OwnOriginAsset},
		{"http://dash.example.org/style.css", Uncached},
		{"https://cdn.jsdelivr.net/npm/chart.js", ThirdPartyAsset},
		{"https://static.uwc-za.b-cdn.net/logo.png", ThirdPartyAsset},
		{"https://evilcdn.jsdelivr.net.example.com/x.js", Uncached},
		{"https://notcdn.jsdelivr.net/x.js", Uncached},
		{"https://a.b.fonts.gstatic.com/x.woff2", ThirdPartyAsset},
		{"https://example.com/x.js", Uncached},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Classify(u), tt.url)
	}
}

func TestDynamicDataNeverTouchesStore(t *testing.T) {
	net := newFakeNet()
	st := NewMemoryStorage(0)
	a := newTestAgent(t, net, st)
	client := &http.Client{Transport: a}

	store, err := st.Open(testConfig().StoreName())
	require.NoError(t, err)
	before := store.Len()

	u := shell + "/api/getDeploymentVersion"
	net.set(u, "v1", http.StatusOK)
	for i := 0; i < 3; i++ {
		body, err := get(t, client, u)
		require.NoError(t, err)
		assert.Equal(t, "v1", body)
	}
	assert.Equal(t, 3, net.callCount(u))
	assert.Equal(t, before, store.Len())

	net.setDown(true)
	_, err = get(t, client, u)
	assert.Error(t, err)
}

func TestCacheHitSurvivesNetworkLoss(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	client := &http.Client{Transport: a}

	cdn := "https://fonts.gstatic.com/inter.woff2"
	net.set(cdn, "font", http.StatusOK)
	own := shell + "/style.css"
	net.set(own, "body{}", http.StatusOK)

	for _, u := range []string{cdn, own} {
		body, err := get(t, client, u)
		require.NoError(t, err)
		require.NotEmpty(t, body)
	}
	a.Wait()

	net.setDown(true)
	body, err := get(t, client, cdn)
	require.NoError(t, err)
	assert.Equal(t, "font", body)

	body, err = get(t, client, own)
	require.NoError(t, err)
	assert.Equal(t, "body{}", body)
	a.Wait()

	assert.Equal(t, 1, net.callCount(cdn), "cache-first must not revalidate")
}

func TestStaleWhileRevalidate(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	client := &http.Client{Transport: a}

	u := shell + "/app.js"
	net.set(u, "app v2", http.StatusOK)

	body, err := get(t, client, u)
	require.NoError(t, err)
	assert.Equal(t, "app v1", body, "caller sees the stored entry")

	a.Wait()
	body, err = get(t, client, u)
	require.NoError(t, err)
	assert.Equal(t, "app v2", body, "background fetch replaced the entry")
}

func TestRevalidationFailureKeepsEntry(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	client := &http.Client{Transport: a}

	u := shell + "/app.js"
	net.set(u, "oops", http.StatusInternalServerError)

	_, err := get(t, client, u)
	require.NoError(t, err)
	a.Wait()

	body, err := get(t, client, u)
	require.NoError(t, err)
	assert.Equal(t, "app v1", body)
}

func TestMissStoresOnlySuccess(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	client := &http.Client{Transport: a}

	u := "https://cdn.jsdelivr.net/missing.js"
	net.set(u, "nope", http.StatusNotFound)

	resp, err := client.Get(u)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(u)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 2, net.callCount(u))
}

func TestUncachedAndPostPassThrough(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	client := &http.Client{Transport: a}

	u := "https://example.com/tracker.js"
	net.set(u, "t", http.StatusOK)
	for i := 0; i < 2; i++ {
		_, err := get(t, client, u)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, net.callCount(u))

	own := shell + "/app.js"
	before := net.callCount(own)
	resp, err := client.Post(own, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, before+1, net.callCount(own))
}

func TestStoreFailureStillAnswers(t *testing.T) {
	net := newFakeNet()
	net.set(shell+"/", "s", http.StatusOK)
	net.set(shell+"/app.js", "a", http.StatusOK)

	a, err := New(testConfig(), NewMemoryStorage(1024), net, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Start(context.Background()))

	u := "https://cdn.jsdelivr.net/big.js"
	net.set(u, strings.Repeat("x", 8192), http.StatusOK)

	body, err := get(t, &http.Client{Transport: a}, u)
	require.NoError(t, err)
	assert.Len(t, body, 8192)
	assert.Equal(t, uint64(1), a.Stats().StoreErrors)
}

func TestInstallIsAtomic(t *testing.T) {
	net := newFakeNet()
	net.set(shell+"/", "s", http.StatusOK)
	// /app.js is missing and answers 404.

	st := NewMemoryStorage(0)
	a, err := New(testConfig(), st, net, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Error(t, a.Install(context.Background()))
	names, err := st.Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, a.Activate(context.Background()), ErrNotInstalled)

	// Not active: requests go straight to the network.
	u := shell + "/"
	before := net.callCount(u)
	_, err = get(t, &http.Client{Transport: a}, u)
	require.NoError(t, err)
	assert.Equal(t, before+1, net.callCount(u))
}

func TestActivateDropsSupersededStores(t *testing.T) {
	net := newFakeNet()
	st := NewMemoryStorage(0)

	old, err := st.Open("uwc-analytics-v0")
	require.NoError(t, err)
	require.NoError(t, old.Put("GET "+shell+"/app.js", newEntry(http.StatusOK, nil, []byte("app v0"))))

	a := newTestAgent(t, net, st)

	names, err := st.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"uwc-analytics-v1"}, names)

	net.setDown(true)
	body, err := get(t, &http.Client{Transport: a}, shell+"/app.js")
	require.NoError(t, err)
	assert.Equal(t, "app v1", body)
}

func TestLevelDBStorage(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	st := NewLevelDBStorage(db)
	t.Cleanup(func() { _ = st.Close() })

	net := newFakeNet()
	_, err = st.Open("uwc-analytics-v0")
	require.NoError(t, err)

	a := newTestAgent(t, net, st)

	names, err := st.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"uwc-analytics-v1"}, names)

	store, err := st.Open("uwc-analytics-v1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	net.setDown(true)
	body, err := get(t, &http.Client{Transport: a}, shell+"/")
	require.NoError(t, err)
	assert.Equal(t, "<html>shell</html>", body)

	require.NoError(t, st.Drop("uwc-analytics-v1"))
	_, ok := store.Get("GET " + shell + "/")
	assert.False(t, ok)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	one := newEntry(http.StatusOK, nil, []byte(strings.Repeat("a", 100)))
	b, err := encodeGob(one)
	require.NoError(t, err)
	size := int64(len(b))

	st := NewMemoryStorage(2*size + size/2)
	s, err := st.Open("s")
	require.NoError(t, err)

	require.NoError(t, s.Put("a", one))
	require.NoError(t, s.Put("b", one))
	_, ok := s.Get("a")
	require.True(t, ok)
	require.NoError(t, s.Put("c", one))

	_, ok = s.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestHandlerReportsOutcome(t *testing.T) {
	net := newFakeNet()
	a := newTestAgent(t, net, NewMemoryStorage(0))
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "app v1", rr.Body.String())
	assert.Equal(t, "hit", rr.Header().Get("X-Dashsync-Cache"))
	assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "X-Dashsync-Cache")
	a.Wait()

	net.set(shell+"/style.css", "css", http.StatusOK)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	assert.Equal(t, "miss", rr.Header().Get("X-Dashsync-Cache"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, "bypass", rr.Header().Get("X-Dashsync-Cache"))

	net.setDown(true)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "bad-gateway", rr.Header().Get("X-Dashsync-Cache"))
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "Content-Type")
	ensureExposedHeader(h, "X-Dashsync-Cache")
	ensureExposedHeader(h, "x-dashsync-cache")
	assert.Equal(t, "Content-Type, X-Dashsync-Cache", h.Get("Access-Control-Expose-Headers"))
}
