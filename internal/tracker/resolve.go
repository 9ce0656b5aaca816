package tracker

import (
	"context"
	"regexp"
	"strings"
)

var (
	uuidPattern        = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	projectURLUUID     = regexp.MustCompile(`project/(?:.*?-)?([a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12})`)
	projectURLSlug     = regexp.MustCompile(`project/([^/?#]+)`)
	slugTrailingHex    = regexp.MustCompile(`^(.+)-[a-f0-9]+$`)
	issueURLIdentifier = regexp.MustCompile(`issue/([A-Z][A-Z0-9]*-\d+)`)
)

const projectIDPrefix = "proj_"

// ParseProjectID resolves a project URL, prefixed id, bare UUID or name to a
// project id. It never fails: when nothing matches the input is returned
// unchanged and the subsequent lookup reports the miss.
func (a *Adapter) ParseProjectID(ctx context.Context, input string) string {
	input = strings.TrimSpace(input)

	if strings.Contains(input, "linear.app") {
		if m := projectURLUUID.FindStringSubmatch(input); m != nil {
			return m[1]
		}
		if m := projectURLSlug.FindStringSubmatch(input); m != nil {
			if nm := slugTrailingHex.FindStringSubmatch(m[1]); nm != nil {
				name := strings.ReplaceAll(nm[1], "-", " ")
				if id, ok := a.findProject(ctx, func(n string) bool { return strings.EqualFold(n, name) }); ok {
					return id
				}
			}
		}
	}

	if strings.HasPrefix(input, projectIDPrefix) {
		return strings.TrimPrefix(input, projectIDPrefix)
	}
	if uuidPattern.MatchString(input) {
		return input
	}

	needle := strings.ToLower(input)
	if id, ok := a.findProject(ctx, func(n string) bool { return strings.Contains(strings.ToLower(n), needle) }); ok {
		return id
	}
	return input
}

func (a *Adapter) findProject(ctx context.Context, match func(name string) bool) (string, bool) {
	projects, err := a.api.Projects(ctx, ProjectFilter{})
	if err != nil {
		a.logger.Warn().Err(err).Str("op", "resolveProject").Msg("listing projects failed")
		return "", false
	}
	for _, p := range projects {
		if match(p.Name) {
			return p.ID, true
		}
	}
	return "", false
}

// ParseIssueID extracts the identifier from an issue URL. Identifiers and
// UUIDs are returned unchanged.
func ParseIssueID(input string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "linear.app") {
		if m := issueURLIdentifier.FindStringSubmatch(input); m != nil {
			return m[1]
		}
	}
	return input
}
