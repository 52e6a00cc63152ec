package ability_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/backend"
)

func testSet(t *testing.T) *ability.Set {
	t.Helper()
	set, err := ability.NewSet([]ability.Rule{
		{Keyword: "weather", BackendID: backend.IDWeather, TimeoutSeconds: 15},
		{Keyword: "weather report", BackendID: backend.IDWeather, TimeoutSeconds: 20, Refine: true},
		{Keyword: "scores", BackendID: backend.IDSports, TimeoutSeconds: 15},
		{Keyword: "draw", BackendID: backend.IDImage, TimeoutSeconds: 120, Params: ability.Params{Required: []string{"prompt"}}},
		{Keyword: "help", BackendID: backend.IDGenerative},
		{BackendID: backend.IDGenerative, AllowEmpty: true},
	})
	require.NoError(t, err)
	return set
}

func TestLongestKeywordWins(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	rule, rest, ok := set.Match("weather report 28465")
	require.True(t, ok)
	assert.Equal(t, "weather report", rule.Keyword)
	assert.Equal(t, "28465", rest)

	rule, rest, ok = set.Match("weather 45403")
	require.True(t, ok)
	assert.Equal(t, "weather", rule.Keyword)
	assert.Equal(t, "45403", rest)
}

func TestPrefixRequiresWordBoundary(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	_, _, ok := set.Match("weatherman strikes again")
	assert.False(t, ok, "keyword must not match inside a longer word")

	rule, rest, ok := set.Match("Weather, tomorrow?")
	require.True(t, ok)
	assert.Equal(t, "weather", rule.Keyword)
	assert.Equal(t, ", tomorrow?", rest)
}

func TestReservedKeywordExactOnly(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	rule, _, ok := set.Match("help")
	require.True(t, ok)
	assert.Equal(t, "help", rule.Keyword)

	_, _, ok = set.Match("help me draw a cat")
	assert.False(t, ok, "reserved keyword must only match the whole message")
}

func TestMatchIsCaseAndSpaceInsensitive(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	rule, rest, ok := set.Match("  WEATHER   Report   28465 ")
	require.True(t, ok)
	assert.Equal(t, "weather report", rule.Keyword)
	assert.Equal(t, "28465", rest)
}

func TestMatchPreservesRemainderCase(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	// The remainder becomes backend input, so an image prompt or search
	// query keeps the casing the user typed.
	rule, rest, ok := set.Match("Draw A Watercolor FOX at Dusk")
	require.True(t, ok)
	assert.Equal(t, "draw", rule.Keyword)
	assert.Equal(t, "A Watercolor FOX at Dusk", rest)

	rule, rest, ok = set.Match("WEATHER Köln")
	require.True(t, ok)
	assert.Equal(t, "weather", rule.Keyword)
	assert.Equal(t, "Köln", rest)
}

func TestContainsKeyword(t *testing.T) {
	t.Parallel()
	set := testSet(t)

	rule, ok := set.ContainsKeyword("you could use the scores ability for that")
	require.True(t, ok)
	assert.Equal(t, "scores", rule.Keyword)

	_, ok = set.ContainsKeyword("nothing matches here")
	assert.False(t, ok)
}

func TestDisabledRuleSkipped(t *testing.T) {
	t.Parallel()
	off := false
	set, err := ability.NewSet([]ability.Rule{
		{Keyword: "scores", BackendID: backend.IDSports, Enabled: &off},
	})
	require.NoError(t, err)

	_, _, ok := set.Match("scores nba")
	assert.False(t, ok)
}

func TestDuplicateKeywordRejected(t *testing.T) {
	t.Parallel()
	_, err := ability.NewSet([]ability.Rule{
		{Keyword: "weather", BackendID: backend.IDWeather},
		{Keyword: "weather", BackendID: backend.IDSearch},
	})
	assert.Error(t, err)
}

func TestFallbackSynthesizedWhenAbsent(t *testing.T) {
	t.Parallel()
	set, err := ability.NewSet([]ability.Rule{
		{Keyword: "weather", BackendID: backend.IDWeather},
	})
	require.NoError(t, err)
	assert.Equal(t, backend.IDGenerative, set.Fallback().BackendID)
}

func TestLoadRulesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "abilities.yaml")
	content := `abilities:
  - keyword: weather
    backend: weather
    timeout_seconds: 15
    description: current conditions by zip code
    refine: true
  - keyword: draw
    backend: image
    timeout_seconds: 120
    params:
      required: [prompt]
  - backend: generative
    allow_empty: true
    context_filter: true
    min_depth: 2
    max_depth: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := ability.Load(path)
	require.NoError(t, err)
	assert.Len(t, set.Rules(), 2)

	rule, _, ok := set.Match("draw a lighthouse")
	require.True(t, ok)
	assert.True(t, rule.HasRequiredParams())

	fb := set.Fallback()
	assert.True(t, fb.ContextFilter)
	assert.Equal(t, 2, fb.MinDepth)
	assert.Equal(t, 10, fb.MaxDepth)
}
