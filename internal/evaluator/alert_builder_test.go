package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-crowd/internal/domain"
)

func TestDecide_NoAlertBelowWarning(t *testing.T) {
	d := Decide("s-1", 10, domain.SeverityNormal, time.Now())
	assert.False(t, d.Alert)
	assert.Nil(t, d.Event)
}

func TestDecide_WarningBuildsAlert(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	d := Decide("s-1", 85, domain.SeverityWarning, at)
	require.True(t, d.Alert)
	require.NotNil(t, d.Event)

	assert.NotEmpty(t, d.Event.AlertID)
	assert.Equal(t, "s-1", d.Event.SensorID)
	assert.Equal(t, domain.SeverityWarning, d.Event.Severity)
	assert.Equal(t, 85, d.Event.Count)
	assert.Equal(t, at, d.Event.CreatedAt)
	assert.Contains(t, d.Event.Message, "85")

	p := Payload(d.Event, time.Minute)
	assert.Equal(t, "warning", p.Severity)
	assert.Equal(t, 60, p.WindowSeconds)
	assert.Equal(t, d.Event.AlertID, p.AlertID)
}

func TestDecide_RepeatsEveryWindow(t *testing.T) {
	// 连续两个 danger 窗口都会生成报警
	a := Decide("s-1", 130, domain.SeverityDanger, time.Now())
	b := Decide("s-1", 131, domain.SeverityDanger, time.Now().Add(time.Minute))
	assert.True(t, a.Alert)
	assert.True(t, b.Alert)
	assert.NotEqual(t, a.Event.AlertID, b.Event.AlertID)
	assert.Contains(t, b.Event.Message, "DANGER")
}
