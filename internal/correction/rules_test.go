package correction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLiteralCaseInsensitive(t *testing.T) {
	e, err := NewEngine([]Rule{
		{ID: "r1", Pattern: "kenobi", Replacement: "Ben", CaseSensitive: false},
	})
	require.NoError(t, err)
	text, fired := e.Apply("General Kenobi!", "ja", "en")
	assert.Equal(t, "General Ben!", text)
	assert.Equal(t, []string{"r1"}, fired)
}

func TestApplyRegex(t *testing.T) {
	e, err := NewEngine([]Rule{
		{ID: "r1", Pattern: `\d+%`, Replacement: "[REDACTED]", IsRegex: true},
	})
	require.NoError(t, err)
	text, fired := e.Apply("Loaded 42% complete", "en", "fr")
	assert.Equal(t, "Loaded [REDACTED] complete", text)
	assert.Equal(t, []string{"r1"}, fired)
}

func TestApplyRespectsLanguageScope(t *testing.T) {
	e, err := NewEngine([]Rule{
		{ID: "r1", Pattern: "foo", Replacement: "bar", TargetLang: "fr"},
	})
	require.NoError(t, err)
	text, fired := e.Apply("foo unchanged", "en", "de")
	assert.Equal(t, "foo unchanged", text)
	assert.Empty(t, fired)

	text, fired = e.Apply("foo unchanged", "en", "fr")
	assert.Equal(t, "bar unchanged", text)
	assert.Equal(t, []string{"r1"}, fired)
}

func TestApplyOnlyCountsRulesThatChangedText(t *testing.T) {
	e, err := NewEngine([]Rule{
		{ID: "noop", Pattern: "absent", Replacement: "never"},
		{ID: "hit", Pattern: "x", Replacement: "y"},
	})
	require.NoError(t, err)
	text, fired := e.Apply("x", "en", "fr")
	assert.Equal(t, "y", text)
	assert.Equal(t, []string{"hit"}, fired)
}

func TestPriorityOrderingHighestFirst(t *testing.T) {
	now := time.Now()
	e, err := NewEngine([]Rule{
		{ID: "low", Pattern: "x", Replacement: "low-wins", Priority: 1, CreatedAt: now},
		{ID: "high", Pattern: "x", Replacement: "high-wins", Priority: 10, CreatedAt: now},
	})
	require.NoError(t, err)
	// The high-priority rule runs first and replaces the only "x"; the
	// low-priority rule then finds nothing to match, leaves the text
	// unchanged, and so is not reported as fired.
	text, fired := e.Apply("x", "en", "fr")
	assert.Equal(t, "high-wins", text)
	assert.Equal(t, []string{"high"}, fired)
}

func TestCreatedAtTieBreak(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	e, err := NewEngine([]Rule{
		{ID: "newer", Pattern: "x", Replacement: "B", Priority: 5, CreatedAt: newer},
		{ID: "older", Pattern: "x", Replacement: "A", Priority: 5, CreatedAt: older},
	})
	require.NoError(t, err)
	// Equal priority: the older rule runs first and replaces the "x"; the
	// newer rule then finds no match in the corrected text and does not fire.
	text, fired := e.Apply("x", "en", "fr")
	assert.Equal(t, "A", text)
	assert.Equal(t, []string{"older"}, fired)
}
