package session

import (
	"go.uber.org/zap"

	"dashsync/internal/backend"
	"dashsync/internal/journey"
	"dashsync/internal/logging"
	"dashsync/internal/syncer"
)

// Renderer draws what the session produces: charts, tables, the sync bar and
// status lines all live behind it.
type Renderer interface {
	RenderDashboard(period string, data backend.DashboardData, report journey.Report)
	RenderSync(state syncer.SyncState)
	RenderStatus(message string)
	RenderUpdateAvailable(previous, current string)
}

// LogRenderer writes dashboard updates to the log. It backs the headless
// watch command.
type LogRenderer struct {
	log *zap.SugaredLogger
}

func NewLogRenderer(logger *zap.SugaredLogger) *LogRenderer {
	return &LogRenderer{log: logging.OrNop(logger).With("component", "renderer")}
}

func (r *LogRenderer) RenderDashboard(period string, data backend.DashboardData, report journey.Report) {
	var failed []string
	for name, s := range data.Sections() {
		if !s.Success {
			failed = append(failed, name)
		}
	}
	r.log.Infow("dashboard updated",
		"period", period,
		"entryViews", journey.FormatCount(report.Entry.Views),
		"projectViews", journey.FormatCount(report.Project.Views),
		"interactionClicks", journey.FormatCount(report.Interaction.Clicks),
		"entryToProject", report.EntryToProject.String(),
		"projectToInteraction", report.ProjectToInteraction.String(),
		"failedSections", failed,
	)
	for _, line := range report.Lines() {
		r.log.Debug(line)
	}
}

func (r *LogRenderer) RenderSync(s syncer.SyncState) {
	r.log.Debugw(s.Label(), "state", s.State.String(), "progress", s.Progress())
}

func (r *LogRenderer) RenderStatus(message string) {
	r.log.Warn(message)
}

func (r *LogRenderer) RenderUpdateAvailable(previous, current string) {
	r.log.Warnw("a new dashboard version is available, sign in again", "previous", previous, "current", current)
}
