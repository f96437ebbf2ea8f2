package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dashsync/internal/journey"
)

// Section is one independently fetched part of the dashboard payload.
type Section struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type DashboardData struct {
	Overview         Section `json:"overview"`
	TimeSeries       Section `json:"timeSeries"`
	Devices          Section `json:"devices"`
	TopPages         Section `json:"topPages"`
	Countries        Section `json:"countries"`
	Events           Section `json:"events"`
	TrafficSources   Section `json:"trafficSources"`
	BounceTimeSeries Section `json:"bounceTimeSeries"`
	Realtime         Section `json:"realtime"`
	PageFlow         Section `json:"pageFlow"`
}

// Sections indexes the sections by their payload name.
func (d DashboardData) Sections() map[string]Section {
	return map[string]Section{
		"overview":         d.Overview,
		"timeSeries":       d.TimeSeries,
		"devices":          d.Devices,
		"topPages":         d.TopPages,
		"countries":        d.Countries,
		"events":           d.Events,
		"trafficSources":   d.TrafficSources,
		"bounceTimeSeries": d.BounceTimeSeries,
		"realtime":         d.Realtime,
		"pageFlow":         d.PageFlow,
	}
}

// PageRecords decodes the page flow section. A failed or empty section yields
// no records.
func (d DashboardData) PageRecords() ([]journey.PageRecord, error) {
	var out []journey.PageRecord
	return out, decodeSection("pageFlow", d.PageFlow, &out)
}

func (d DashboardData) EventCounts() ([]journey.EventCount, error) {
	var out []journey.EventCount
	return out, decodeSection("events", d.Events, &out)
}

func decodeSection(name string, s Section, out any) error {
	if !s.Success || len(s.Data) == 0 || string(s.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(s.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

type SessionInfo struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name"`
}

func (c *Client) FetchDashboard(ctx context.Context, period string) (DashboardData, error) {
	var data DashboardData
	err := c.Call(ctx, ActionFetchDashboard, map[string]string{"period": period}, &data)
	return data, err
}

func (c *Client) DeploymentVersion(ctx context.Context) (string, error) {
	return c.callToken(ctx, ActionDeploymentVersion)
}

func (c *Client) AppVersion(ctx context.Context) (string, error) {
	return c.callToken(ctx, ActionAppVersion)
}

func (c *Client) ValidateSession(ctx context.Context, token string) (SessionInfo, error) {
	var info SessionInfo
	err := c.Call(ctx, ActionValidateSession, map[string]string{"token": token}, &info)
	return info, err
}

func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.Call(ctx, ActionSignOut, map[string]string{"token": token}, nil)
}

// callToken reads an opaque scalar answer. Strings are unquoted, anything
// else is kept as its JSON text.
func (c *Client) callToken(ctx context.Context, action string) (string, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, action, nil, &raw); err != nil {
		return "", err
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	if t := strings.TrimSpace(string(raw)); t != "null" {
		return t, nil
	}
	return "", nil
}
