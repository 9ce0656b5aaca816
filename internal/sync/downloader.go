package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	terrors "github.com/nfugallo/terna/internal/errors"
	"github.com/nfugallo/terna/internal/metrics"
	"github.com/nfugallo/terna/internal/mirror"
	"github.com/nfugallo/terna/internal/models"
)

// Mirror is where downloaded documents are written.
type Mirror interface {
	WriteProject(p models.Project, milestones []models.Milestone) (string, error)
	WriteIssue(i models.Issue, projectSlug, parentPath string) (string, error)
}

var _ Mirror = (*mirror.Store)(nil)

// DownloadResult counts what a download wrote locally.
type DownloadResult struct {
	Projects int      `json:"projects"`
	Issues   int      `json:"issues"`
	Errors   []string `json:"errors"`
}

// Downloader re-renders a repository's terna/ tree into the local mirror.
// Documents are parsed and written back through the mirror, so the local
// copy is normalized rather than byte-identical.
type Downloader struct {
	mirror  Mirror
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewDownloader creates a downloader writing to m.
func NewDownloader(m Mirror, logger zerolog.Logger) *Downloader {
	return &Downloader{
		mirror: m,
		logger: logger.With().Str("component", "sync.download").Logger(),
	}
}

// SetMetrics enables per-entity counters.
func (d *Downloader) SetMetrics(m *metrics.Metrics) { d.metrics = m }

func (d *Downloader) count(kind, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordSyncEntity(kind, outcome)
	}
}

// Download fetches every project and issue under terna/projects. A missing
// or unreadable root fails the whole download; a bad project or issue is
// recorded and skipped.
func (d *Downloader) Download(ctx context.Context, src Source) (*DownloadResult, error) {
	res := &DownloadResult{Errors: []string{}}

	root, err := src.ListDir(ctx, ProjectsRoot)
	if err != nil {
		return res, fmt.Errorf("accessing %s: %w", ProjectsRoot, err)
	}
	if !root.Present {
		return res, fmt.Errorf("%s is not a directory: %w", ProjectsRoot, terrors.ErrNotFound)
	}

	for _, dir := range root.Dirs() {
		var doc mirror.ProjectDocument
		if _, err := readDocument(ctx, src, join(dir.Path, mirror.ProjectFile), &doc); err != nil {
			d.logger.Error().Err(err).Str("project", dir.Name).Msg("project download failed")
			d.count("project", "error")
			res.Errors = append(res.Errors, fmt.Sprintf("error downloading project %s: %v", dir.Name, err))
			continue
		}

		project, milestones := projectFromDocument(doc)
		if _, err := d.mirror.WriteProject(project, milestones); err != nil {
			return res, fmt.Errorf("writing project %s: %w", doc.Name, err)
		}
		res.Projects++
		d.count("project", "downloaded")

		d.downloadIssues(ctx, src, join(dir.Path, mirror.IssuesDir), mirror.Slugify(doc.Name), "", res)
	}

	d.logger.Info().Int("projects", res.Projects).Int("issues", res.Issues).Int("errors", len(res.Errors)).Msg("download finished")
	return res, nil
}

func (d *Downloader) downloadIssues(ctx context.Context, src Source, dir, projectSlug, parentPath string, res *DownloadResult) {
	listing, err := src.ListDir(ctx, dir)
	if err != nil {
		d.logger.Error().Err(err).Str("dir", dir).Msg("listing issues failed")
		res.Errors = append(res.Errors, fmt.Sprintf("error accessing %s: %v", dir, err))
		return
	}
	if !listing.Present {
		return
	}

	for _, entry := range listing.Dirs() {
		var doc mirror.IssueDocument
		if _, err := readDocument(ctx, src, join(entry.Path, mirror.IssueFile), &doc); err != nil {
			d.logger.Error().Err(err).Str("issue", entry.Name).Msg("issue download failed")
			d.count("issue", "error")
			res.Errors = append(res.Errors, fmt.Sprintf("error downloading issue %s: %v", entry.Name, err))
			continue
		}

		rel, err := d.mirror.WriteIssue(issueFromDocument(doc), projectSlug, parentPath)
		if err != nil {
			d.count("issue", "error")
			res.Errors = append(res.Errors, fmt.Sprintf("error writing issue %s: %v", entry.Name, err))
			continue
		}
		res.Issues++
		d.count("issue", "downloaded")

		d.downloadIssues(ctx, src, join(entry.Path, mirror.SubIssuesDir), projectSlug, rel, res)
	}
}

func projectFromDocument(doc mirror.ProjectDocument) (models.Project, []models.Milestone) {
	p := models.Project{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Content:     doc.Content,
		State:       doc.Status,
		URL:         doc.LinearURL,
		TargetDate:  doc.Target,
	}
	milestones := make([]models.Milestone, 0, len(doc.Milestones))
	for _, m := range doc.Milestones {
		milestones = append(milestones, models.Milestone{Name: m.Name, Description: m.Description})
	}
	return p, milestones
}

func issueFromDocument(doc mirror.IssueDocument) models.Issue {
	i := models.Issue{
		ID:         doc.ID,
		Identifier: doc.Identifier,
		Title:      doc.Title,
		State:      models.WorkflowState{Name: doc.Status},
		Priority:   models.ParsePriority(doc.Priority),
		Estimate:   doc.Estimate,
		URL:        doc.LinearURL,
	}
	if doc.Description != nil {
		i.Description, i.HasDescription = *doc.Description, true
	}
	for _, name := range doc.Labels {
		i.Labels = append(i.Labels, models.Label{Name: name})
	}
	if doc.Assignee != "" {
		i.Assignee = &models.User{Name: doc.Assignee}
	}
	return i
}
