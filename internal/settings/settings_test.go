package settings

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	metadata []byte
	err      error
	calls    int
}

func (f *fakeReader) AccountMetadata(ctx context.Context, account string) ([]byte, error) {
	f.calls++
	return f.metadata, f.err
}

func TestDefaultSettings(t *testing.T) {
	s := Default()
	require.Equal(t, 3*time.Second, s.HiveOperationPeriod)
	require.Equal(t, 8000, s.MaxURLListBytes)
	require.Equal(t, 180*time.Second, s.DiagnosticReportPeriod)
	require.Equal(t, "podping", s.ControlAccount)
}

func TestWithOverridesAppliesPublishedValues(t *testing.T) {
	metadata := []byte(`{
		"profile": {"name": "Podping"},
		"podping-settings": {
			"hive_operation_period": 12,
			"max_url_list_bytes": 4000,
			"diagnostic_report_period": 60
		}
	}`)

	next, changed, err := Default().withOverrides(metadata)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 12*time.Second, next.HiveOperationPeriod)
	require.Equal(t, 4000, next.MaxURLListBytes)
	require.Equal(t, 60*time.Second, next.DiagnosticReportPeriod)
	// Untouched fields keep their defaults.
	require.Equal(t, "podping", next.ControlAccount)
}

func TestWithOverridesIgnoresUnrelatedMetadata(t *testing.T) {
	next, changed, err := Default().withOverrides([]byte(`{"profile":{"name":"x"}}`))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, Default(), next)
}

func TestWithOverridesEmptyMetadata(t *testing.T) {
	next, changed, err := Default().withOverrides(nil)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, Default(), next)
}

func TestWithOverridesMalformedMetadata(t *testing.T) {
	_, _, err := Default().withOverrides([]byte(`{"podping-settings": "nope"`))
	require.Error(t, err)
}

func TestManagerRefresh(t *testing.T) {
	reader := &fakeReader{metadata: []byte(`{"podping-settings":{"hive_operation_period":9}}`)}
	m := NewManager(zerolog.Nop(), Default(), reader)

	require.NoError(t, m.refresh(context.Background()))
	require.Equal(t, 9*time.Second, m.Settings().HiveOperationPeriod)
}

func TestManagerSnapshotIsStable(t *testing.T) {
	m := NewManager(zerolog.Nop(), Default(), nil)
	snap := m.Settings()
	require.Equal(t, snap, m.Settings())
}
