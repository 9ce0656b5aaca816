package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var attemptFile = regexp.MustCompile(`^attempt-(\d+)\.md$`)

// AttemptDocument is the front-matter of attempts/attempt-N.md, written by
// coding agents working an issue.
type AttemptDocument struct {
	Attempt   int    `yaml:"attempt"`
	Agent     string `yaml:"agent"`
	Status    string `yaml:"status"`
	Started   string `yaml:"started"`
	Completed string `yaml:"completed"`
}

// Attempt is one parsed attempt report.
type Attempt struct {
	Number   int
	Path     string
	Document AttemptDocument
	Body     string
}

// FindIssue returns the first main issue, across all projects, whose folder
// name starts with prefix (compared case-insensitively). ok is false when
// nothing matches.
func (s *Store) FindIssue(prefix string) (IssueRecord, bool, error) {
	prefix = strings.ToLower(prefix)
	projects, err := readSubtree(filepath.Join(s.root, ProjectsDir))
	if err != nil {
		return IssueRecord{}, false, err
	}

	for _, slug := range projects.Dirs {
		issuesDir := filepath.Join(s.ProjectDir(slug), IssuesDir)
		issues, err := readSubtree(issuesDir)
		if err != nil {
			return IssueRecord{}, false, err
		}
		for _, name := range issues.Dirs {
			if !strings.HasPrefix(strings.ToLower(name), prefix) {
				continue
			}
			dir := filepath.Join(issuesDir, name)
			var doc IssueDocument
			body, err := readDocument(filepath.Join(dir, IssueFile), &doc)
			if err != nil {
				return IssueRecord{}, false, fmt.Errorf("reading matched issue: %w", err)
			}
			return IssueRecord{FolderName: name, Path: dir, Document: doc, Body: body}, true, nil
		}
	}
	return IssueRecord{}, false, nil
}

// LatestAttempt returns the highest-numbered attempt report in issueDir.
// ok is false when there is no attempts/ directory or it holds no reports.
func (s *Store) LatestAttempt(issueDir string) (Attempt, bool, error) {
	entries, err := os.ReadDir(filepath.Join(issueDir, AttemptsDir))
	if os.IsNotExist(err) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, fmt.Errorf("listing attempts: %w", err)
	}

	best, bestName := -1, ""
	for _, e := range entries {
		m := attemptFile.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best, bestName = n, e.Name()
		}
	}
	if best < 0 {
		return Attempt{}, false, nil
	}

	path := filepath.Join(issueDir, AttemptsDir, bestName)
	var doc AttemptDocument
	body, err := readDocument(path, &doc)
	if err != nil {
		return Attempt{}, false, err
	}
	return Attempt{Number: best, Path: path, Document: doc, Body: strings.TrimSpace(body)}, true, nil
}
