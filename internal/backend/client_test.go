package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	Path string
	Body request
	Raw  map[string]json.RawMessage
}

func newBackend(t *testing.T, answer func(action string) (int, string)) (*Client, *[]seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req request
		_ = json.Unmarshal(b, &req)
		var raw map[string]json.RawMessage
		_ = json.Unmarshal(b, &raw)
		mu.Lock()
		seen = append(seen, seenRequest{Path: r.URL.Path, Body: req, Raw: raw})
		mu.Unlock()

		status, body := answer(req.Action)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client(), nil), &seen
}

func TestCallEnvelope(t *testing.T) {
	c, seen := newBackend(t, func(string) (int, string) { return http.StatusOK, `"v42"` })
	c.SetToken("tok")

	v, err := c.DeploymentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v42", v)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, "/api/getDeploymentVersion", got.Path)
	assert.Equal(t, "getDeploymentVersion", got.Body.Action)
	assert.Equal(t, "tok", got.Body.Token)
	assert.JSONEq(t, `{}`, string(got.Raw["params"]))
}

func TestCallNon2xx(t *testing.T) {
	c, _ := newBackend(t, func(string) (int, string) { return http.StatusBadGateway, `{"success":false,"error":"x"}` })

	_, err := c.AppVersion(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "API error: 502", err.Error())
}

func TestCallRemoteFailure(t *testing.T) {
	c, _ := newBackend(t, func(string) (int, string) {
		return http.StatusOK, `{"success":false,"error":"Invalid session token"}`
	})

	_, err := c.FetchDashboard(context.Background(), "WEEKLY")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Invalid session token", remote.Message)
	assert.Equal(t, ActionFetchDashboard, remote.Action)
}

func TestFetchDashboardDecodesJourneyInputs(t *testing.T) {
	c, seen := newBackend(t, func(string) (int, string) {
		return http.StatusOK, `{
			"overview": {"success": true, "data": {"totalUsers": 3}},
			"pageFlow": {"success": true, "data": [{"path": "/", "views": 100, "users": 80, "avgDuration": 30}]},
			"events": {"success": true, "data": [{"name": "open_interactive_model", "count": 5, "users": 4}]},
			"devices": {"success": false, "error": "quota"}
		}`
	})

	data, err := c.FetchDashboard(context.Background(), "MONTHLY")
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"MONTHLY"}`, string((*seen)[0].Raw["params"]))

	pages, err := data.PageRecords()
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.EqualValues(t, 100, pages[0].Views)

	events, err := data.EventCounts()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "open_interactive_model", events[0].Name)

	assert.False(t, data.Sections()["devices"].Success)
	assert.Equal(t, "quota", data.Devices.Error)
}

func TestFailedSectionYieldsNoRecords(t *testing.T) {
	data := DashboardData{PageFlow: Section{Success: false, Error: "boom"}}
	pages, err := data.PageRecords()
	require.NoError(t, err)
	assert.Empty(t, pages)

	data.PageFlow = Section{Success: true, Data: json.RawMessage(`{"not":"a list"}`)}
	_, err = data.PageRecords()
	require.Error(t, err)
}

func TestValidateSessionAndSignOut(t *testing.T) {
	c, seen := newBackend(t, func(action string) (int, string) {
		if action == ActionValidateSession {
			return http.StatusOK, `{"valid":true,"name":"Ada"}`
		}
		return http.StatusOK, `{"success":true}`
	})

	info, err := c.ValidateSession(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, SessionInfo{Valid: true, Name: "Ada"}, info)
	require.NoError(t, c.SignOut(context.Background(), "tok"))

	require.Len(t, *seen, 2)
	assert.JSONEq(t, `{"token":"tok"}`, string((*seen)[1].Raw["params"]))
}

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		err  error
		want error
	}{
		{&RemoteError{Message: "Authorization required"}, ErrSessionInvalid},
		{&RemoteError{Message: "You do not have permission"}, ErrSessionInvalid},
		{errors.New("INVALID_SESSION"), ErrSessionInvalid},
		{errors.New("user not logged in"), ErrSessionInvalid},
		{&APIError{Status: 500}, ErrTransient},
		{errors.New("dial tcp: connection refused"), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := c.Classify(tt.err)
			require.ErrorIs(t, got, tt.want)
			require.ErrorIs(t, got, tt.err)
		})
	}

	require.NoError(t, c.Classify(nil))
	once := c.Classify(errors.New("x"))
	assert.Equal(t, once, c.Classify(once))
}
