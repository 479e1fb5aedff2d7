package evidence

import (
	"go.uber.org/zap"

	"reqsync/internal/config"
)

// Load reads the phase results and the vitest report configured for the
// scenario at root. Vitest records are merged into Records.
func Load(root string, cfg config.Config, log *zap.Logger) (*Set, error) {
	set, err := LoadPhaseResults(config.Resolve(root, cfg.PhaseResultsDir), log)
	if err != nil {
		return nil, err
	}
	vitest, err := LoadVitestReport(config.Resolve(root, cfg.VitestReport), log)
	if err != nil {
		return nil, err
	}
	set.Vitest = vitest
	set.Records.Merge(vitest.Records)
	return set, nil
}
