package usage

import "github.com/kailas-cloud/voicerag/internal/domain"

// BudgetReader exposes per-meter budget state. A zero limit means unlimited.
type BudgetReader interface {
	Daily(m domain.Meter) (limit, used int64)
	Monthly(m domain.Meter) (limit, used int64)
}
