package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wisefido-crowd/internal/domain"
)

var scenario = domain.Thresholds{Safe: 30, Normal: 50, Warning: 80, Danger: 120}

func TestClassify_Bands(t *testing.T) {
	cases := []struct {
		count int
		want  domain.Severity
	}{
		{0, domain.SeveritySafe},
		{49, domain.SeveritySafe},
		{50, domain.SeverityNormal},
		{79, domain.SeverityNormal},
		{80, domain.SeverityWarning},
		{85, domain.SeverityWarning},
		{119, domain.SeverityWarning},
		{120, domain.SeverityDanger},
		{215, domain.SeverityDanger},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.count, scenario), "count=%d", tc.count)
	}
}

func TestClassify_DangerDominatesMalformedThresholds(t *testing.T) {
	malformed := []domain.Thresholds{
		{Safe: 500, Normal: 400, Warning: 300, Danger: 100},
		{Safe: 0, Normal: 200, Warning: 150, Danger: 100},
		{Safe: 100, Normal: 100, Warning: 100, Danger: 100},
	}
	for _, th := range malformed {
		for _, count := range []int{100, 101, 1000} {
			assert.Equal(t, domain.SeverityDanger, Classify(count, th), "thresholds=%+v count=%d", th, count)
		}
	}
}

func TestClassify_OutOfOrderFavorsMoreSevere(t *testing.T) {
	// normal > warning：count 同时满足两者时取 warning
	th := domain.Thresholds{Safe: 10, Normal: 70, Warning: 60, Danger: 100}
	assert.Equal(t, domain.SeverityWarning, Classify(75, th))
	assert.Equal(t, domain.SeverityWarning, Classify(65, th))
	assert.Equal(t, domain.SeveritySafe, Classify(59, th))
}

func TestShouldAlert(t *testing.T) {
	assert.False(t, ShouldAlert(domain.SeveritySafe))
	assert.False(t, ShouldAlert(domain.SeverityNormal))
	assert.True(t, ShouldAlert(domain.SeverityWarning))
	assert.True(t, ShouldAlert(domain.SeverityDanger))
}
