package shared

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestEmergencyLevelFor(t *testing.T) {
	tests := []struct {
		name     string
		drawdown float64
		want     EmergencyLevel
	}{
		{
			name:     "no drawdown",
			drawdown: 0,
			want:     LevelNormal,
		},
		{
			name:     "just below caution",
			drawdown: 0.0999,
			want:     LevelNormal,
		},
		{
			name:     "caution threshold is inclusive",
			drawdown: 0.10,
			want:     LevelCaution,
		},
		{
			name:     "elevated threshold is inclusive",
			drawdown: 0.15,
			want:     LevelElevated,
		},
		{
			name:     "between elevated and crisis",
			drawdown: 0.17,
			want:     LevelElevated,
		},
		{
			name:     "crisis threshold is inclusive",
			drawdown: 0.20,
			want:     LevelCrisis,
		},
		{
			name:     "halt threshold is inclusive",
			drawdown: 0.25,
			want:     LevelHalt,
		},
		{
			name:     "deep drawdown",
			drawdown: 0.60,
			want:     LevelHalt,
		},
	}

	for _, test := range tests {
		level := EmergencyLevelFor(test.drawdown)
		if level != test.want {
			t.Errorf("%s: expected level %s, got %s", test.name, test.want.String(), level.String())
		}
	}
}

func TestSizeMultiplier(t *testing.T) {
	assert.Equal(t, LevelNormal.SizeMultiplier(), 1.0)
	assert.Equal(t, LevelCaution.SizeMultiplier(), 0.8)
	assert.Equal(t, LevelElevated.SizeMultiplier(), 0.6)
	assert.Equal(t, LevelCrisis.SizeMultiplier(), 0.3)
	assert.Equal(t, LevelHalt.SizeMultiplier(), 0.0)
	assert.Equal(t, EmergencyLevel(999).SizeMultiplier(), 0.0)
}

func TestDowngradeThreshold(t *testing.T) {
	assert.Equal(t, LevelCaution.DowngradeThreshold(), 0.10)
	assert.Equal(t, LevelElevated.DowngradeThreshold(), 0.15)
	assert.Equal(t, LevelCrisis.DowngradeThreshold(), 0.20)
	assert.Equal(t, LevelHalt.DowngradeThreshold(), 0.25)
	assert.Equal(t, LevelNormal.DowngradeThreshold(), 0.0)
}
