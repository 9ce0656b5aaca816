package mirror

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("mirror: missing frontmatter")
	// ErrMalformedFrontMatter indicates the closing fence was not found.
	ErrMalformedFrontMatter = errors.New("mirror: malformed frontmatter")
)

// SplitFrontMatter separates the YAML block from the markdown body of a
// `---` fenced document.
func SplitFrontMatter(content []byte) (meta, body []byte, err error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	// An empty block closes immediately.
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return nil, rest[4:], nil
	}
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-4], nil, nil
		}
		return nil, nil, ErrMalformedFrontMatter
	}
	return parts[0], bytes.TrimLeft(parts[1], "\n"), nil
}

// ParseFrontMatter decodes the YAML block of content into v and returns the body.
func ParseFrontMatter(content []byte, v any) (string, error) {
	meta, body, err := SplitFrontMatter(content)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(meta, v); err != nil {
		return "", fmt.Errorf("mirror: parse frontmatter: %w", err)
	}
	return string(body), nil
}

// RenderFrontMatter renders v as a YAML block followed by body.
func RenderFrontMatter(v any, body string) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mirror: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}
