package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrontMatter(t *testing.T) {
	meta, body, err := SplitFrontMatter([]byte("---\r\nname: x\r\n---\r\n\r\n# Body\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "name: x", string(meta))
	assert.Equal(t, "# Body\n", string(body))
}

func TestSplitFrontMatter_Errors(t *testing.T) {
	_, _, err := SplitFrontMatter([]byte("# no fence"))
	assert.ErrorIs(t, err, ErrMissingFrontMatter)

	_, _, err = SplitFrontMatter([]byte("---\nname: x\nno closing fence"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)
}

func TestSplitFrontMatter_EmptyBlockAndNoBody(t *testing.T) {
	meta, body, err := SplitFrontMatter([]byte("---\n---\nbody"))
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Equal(t, "body", string(body))

	meta, body, err = SplitFrontMatter([]byte("---\nname: x\n---"))
	require.NoError(t, err)
	assert.Equal(t, "name: x", string(meta))
	assert.Empty(t, body)
}

func TestRenderThenParse(t *testing.T) {
	parent := "eng-1-root"
	in := IssueDocument{ID: "1", Identifier: "ENG-2", Title: "Child: with colon", Parent: &parent, Labels: []string{"a"}}

	data, err := RenderFrontMatter(in, "# Child\n")
	require.NoError(t, err)

	var out IssueDocument
	body, err := ParseFrontMatter(data, &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "# Child\n", body)
}

func TestParseFrontMatter_BadYAML(t *testing.T) {
	var doc ProjectDocument
	_, err := ParseFrontMatter([]byte("---\nname: [unclosed\n---\nbody"), &doc)
	assert.Error(t, err)
}
