package manual

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqsync/internal/model"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBuild_DefaultExpiry(t *testing.T) {
	e, err := Build(Input{RequirementID: "REQ-1", Status: "passed", ValidatedAt: jan1}, time.Now(), 30)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), e.ExpiresAt)
	assert.Equal(t, model.LivePassed, e.Status)
}

func TestBuild_ExplicitExpiryAndNow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e, err := Build(Input{RequirementID: "REQ-1", Status: "failed", ExpiresInDays: 7}, now, 30)
	require.NoError(t, err)
	assert.Equal(t, now, e.ValidatedAt)
	assert.Equal(t, now.AddDate(0, 0, 7), e.ExpiresAt)

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e, err = Build(Input{RequirementID: "REQ-1", Status: "skipped", ExpiresAt: at, ExpiresInDays: 7}, now, 30)
	require.NoError(t, err)
	assert.Equal(t, at, e.ExpiresAt)
}

func TestBuild_Rejects(t *testing.T) {
	for name, in := range map[string]Input{
		"no id":          {Status: "passed"},
		"bad status":     {RequirementID: "R", Status: "great"},
		"not run":        {RequirementID: "R", Status: "not_run"},
		"negative days":  {RequirementID: "R", Status: "passed", ExpiresInDays: -1},
		"expiry in past": {RequirementID: "R", Status: "passed", ValidatedAt: jan1, ExpiresAt: jan1.Add(-time.Hour)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Build(in, jan1, 30)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEntry))
		})
	}
}

func TestAppendAndLoad_LatestWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual", "log.jsonl")
	ctx := context.Background()

	entries := []Input{
		{RequirementID: "REQ-1", Status: "failed", ValidatedAt: jan1.Add(48 * time.Hour), ValidatedBy: "ana"},
		{RequirementID: "REQ-1", Status: "passed", ValidatedAt: jan1, ValidatedBy: "ana"},
		{RequirementID: "REQ-2", Status: "passed", ValidatedAt: jan1, ValidatedBy: "bo"},
		{RequirementID: "REQ-2", Status: "skipped", ValidatedAt: jan1, ValidatedBy: "cy"},
	}
	for _, in := range entries {
		e, err := Build(in, jan1, 30)
		require.NoError(t, err)
		require.NoError(t, Append(ctx, path, e))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err := Load(path, nil)
	require.NoError(t, err)
	assert.Len(t, l.Entries, 4)
	assert.Equal(t, []string{"REQ-1", "REQ-2"}, l.IDs())
	assert.Equal(t, model.LiveFailed, l.Latest["REQ-1"].Status, "latest validated_at wins over file order")
	assert.Equal(t, "cy", l.Latest["REQ-2"].ValidatedBy, "ties go to the later line")
	assert.Equal(t, 4, l.Latest["REQ-2"].Line)
}

func TestLoad_SkipsOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	huge := `{"requirement_id": "REQ-BIG", "status": "passed", "notes": "` + strings.Repeat("x", MaxLineBytes) + `"}`
	body := huge + "\n" + `{"requirement_id": "REQ-1", "status": "passed", "validated_at": "2024-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	l, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"REQ-1"}, l.IDs())
	assert.Equal(t, 2, l.Latest["REQ-1"].Line, "final line without newline is read")
}

func TestLoad_MissingLedger(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "none.jsonl"), nil)
	require.NoError(t, err)
	assert.Empty(t, l.Latest)
}

func TestRecords_ExpiredBecomesNotRun(t *testing.T) {
	l := &Ledger{Latest: map[string]Entry{
		"FRESH": {RequirementID: "FRESH", Status: model.LivePassed, ValidatedAt: jan1, ExpiresAt: jan1.AddDate(0, 0, 30), ValidatedBy: "ana"},
		"OLD":   {RequirementID: "OLD", Status: model.LivePassed, ValidatedAt: jan1, ExpiresAt: jan1.AddDate(0, 0, 1)},
	}}
	recs := Records(l, jan1.AddDate(0, 0, 10))

	fresh := recs["FRESH"][0]
	assert.Equal(t, model.LivePassed, fresh.Status)
	assert.Equal(t, Phase, fresh.Phase)
	assert.Equal(t, model.OriginManual, fresh.Origin)
	assert.Equal(t, "validated by ana", fresh.Evidence)

	old := recs["OLD"][0]
	assert.Equal(t, model.LiveNotRun, old.Status)
	assert.Contains(t, old.Evidence, "expired at 2024-01-02T00:00:00Z")
}

func TestEntry_MissingMetadata(t *testing.T) {
	assert.Equal(t, []string{"validated_at", "expires_at", "validated_by"}, Entry{RequirementID: "R"}.MissingMetadata())
	assert.Empty(t, Entry{ValidatedAt: jan1, ExpiresAt: jan1, ValidatedBy: "x"}.MissingMetadata())
}
