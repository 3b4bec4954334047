package monitoring

import readings "sensorgrid-cloud/internal/readings/domain"

// Health score bounds and per-reading deltas.
const (
	HealthMax = 100.0
	HealthMin = 0.0

	healthCriticalDamage = 2.0
	healthMinorWear      = 0.5
	healthRegeneration   = 0.1
)

// UpdateHealth applies one reading to a health score and clamps to [0,100].
// Breaches decay the score, normal readings slowly regenerate it; there is no
// other mutation path.
func UpdateHealth(health, value, threshold float64) float64 {
	switch {
	case value > threshold:
		health -= healthCriticalDamage
	case value > readings.WarningRatio*threshold:
		health -= healthMinorWear
	default:
		health += healthRegeneration
	}
	if health > HealthMax {
		return HealthMax
	}
	if health < HealthMin {
		return HealthMin
	}
	return health
}
