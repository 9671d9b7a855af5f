package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAt_ContiguousAndDisjoint(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := 60 * time.Second

	current := WindowAt(now, w, 0)
	previous := WindowAt(now, w, 1)

	assert.Equal(t, now.Add(-w), current.Start)
	assert.Equal(t, now, current.End)
	assert.Equal(t, current.Start, previous.End)
	assert.Equal(t, now.Add(-2*w), previous.Start)

	// now-w 只属于 previous；now 本身属于 current
	boundary := now.Add(-w)
	assert.False(t, current.Contains(boundary))
	assert.True(t, previous.Contains(boundary))
	assert.True(t, current.Contains(now))
	assert.False(t, previous.Contains(now.Add(-2*w)))
}

func TestDedupeTokens(t *testing.T) {
	out := DedupeTokens([]Token{"a", "b", "a", "c", "b"})
	assert.Equal(t, []Token{"a", "b", "c"}, out)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, Thresholds{Safe: 30, Normal: 50, Warning: 80, Danger: 120}.Validate())

	err := Thresholds{Safe: 30, Normal: 90, Warning: 80, Danger: 120}.Validate()
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = Thresholds{Safe: 30, Normal: 30, Warning: 80, Danger: 120}.Validate()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestThresholdsPatch_Apply(t *testing.T) {
	warning := 70
	got := ThresholdsPatch{Warning: &warning}.Apply(Thresholds{Safe: 10, Normal: 30, Warning: 60, Danger: 100})
	assert.Equal(t, Thresholds{Safe: 10, Normal: 30, Warning: 70, Danger: 100}, got)
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	b, err := SeverityDanger.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "danger", string(b))

	var s Severity
	assert.NoError(t, s.UnmarshalText([]byte("warning")))
	assert.Equal(t, SeverityWarning, s)

	assert.ErrorIs(t, s.UnmarshalText([]byte("panic")), ErrInvalidInput)
	assert.True(t, SeveritySafe < SeverityNormal && SeverityNormal < SeverityWarning && SeverityWarning < SeverityDanger)
}
