package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqsync/internal/config"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestGuard_Check(t *testing.T) {
	required := []string{"structure", "unit", "integration"}
	cases := []struct {
		name    string
		env     map[string]string
		flag    bool
		wantErr bool
		missing []string
		skipped []string
	}{
		{name: "no metadata", env: nil, wantErr: true},
		{name: "all phases", env: map[string]string{config.EnvTestPhases: "all"}},
		{name: "explicit list", env: map[string]string{config.EnvTestPhases: "structure, unit integration"}},
		{name: "missing phase", env: map[string]string{config.EnvTestPhases: "unit"}, wantErr: true, missing: []string{"structure", "integration"}},
		{
			name:    "skipped phase",
			env:     map[string]string{config.EnvTestPhases: "all", config.EnvPhaseStatuses: "unit=passed,integration=skipped"},
			wantErr: true,
			skipped: []string{"integration"},
		},
		{name: "flag override", env: nil, flag: true},
		{name: "env override", env: map[string]string{config.EnvAllowPartialSync: "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := GuardFromEnv(required, envOf(tc.env), tc.flag).Check()
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrGuard))
			var ge *GuardError
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tc.missing, ge.Missing)
			assert.Equal(t, tc.skipped, ge.Skipped)
			assert.Contains(t, err.Error(), "--allow-partial-sync")
		})
	}
}
