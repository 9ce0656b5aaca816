package github

import (
	"context"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// TokenValidation reports whether a token can be used for commits.
type TokenValidation struct {
	Valid  bool     `json:"valid"`
	User   string   `json:"username,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ValidateToken fetches the authenticated user and checks the token carries
// the repo or public_repo scope.
func ValidateToken(ctx context.Context, client *gh.Client) TokenValidation {
	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return TokenValidation{Error: err.Error()}
	}

	var scopes []string
	if resp != nil {
		scopes = parseScopes(resp.Header.Get("X-OAuth-Scopes"))
	}
	v := TokenValidation{User: user.GetLogin(), Scopes: scopes}
	for _, s := range scopes {
		if s == "repo" || s == "public_repo" {
			v.Valid = true
			return v
		}
	}
	v.Error = `token missing required "repo" scope`
	return v
}

func parseScopes(header string) []string {
	var out []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
