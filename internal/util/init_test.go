package util

import (
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, values map[string]any) *koanf.Koanf {
	t.Helper()
	ko := koanf.New(".")
	for key, val := range values {
		require.NoError(t, ko.Set(key, val))
	}
	return ko
}

func TestValidateConfig(t *testing.T) {
	logger := InitLogger()

	valid := map[string]any{
		"hive.server_account": "podping.test",
		"hive.posting_key":    "5JFakeKey",
	}
	require.NoError(t, ValidateConfig(testConfig(t, valid), logger))

	cases := []struct {
		name   string
		values map[string]any
	}{
		{
			name:   "missing server account",
			values: map[string]any{"hive.posting_key": "5JFakeKey"},
		},
		{
			name:   "missing posting key outside dry run",
			values: map[string]any{"hive.server_account": "podping.test"},
		},
		{
			name: "listen port out of range",
			values: map[string]any{
				"hive.server_account": "podping.test",
				"hive.posting_key":    "5JFakeKey",
				"server.listen_port":  70000,
			},
		},
		{
			name: "url list budget above payload cap",
			values: map[string]any{
				"hive.server_account":         "podping.test",
				"hive.posting_key":            "5JFakeKey",
				"settings.max_url_list_bytes": 9000,
			},
		},
		{
			name: "negative operation period",
			values: map[string]any{
				"hive.server_account":            "podping.test",
				"hive.posting_key":               "5JFakeKey",
				"settings.hive_operation_period": -3,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, ValidateConfig(testConfig(t, tc.values), logger))
		})
	}
}

func TestValidateConfigDryRunNeedsNoKey(t *testing.T) {
	ko := testConfig(t, map[string]any{
		"hive.server_account": "podping.test",
		"hive.dry_run":        true,
	})
	require.NoError(t, ValidateConfig(ko, InitLogger()))
}

func TestPostingKeyPrefersListForm(t *testing.T) {
	ko := testConfig(t, map[string]any{
		"hive.posting_key":  "single",
		"hive.posting_keys": []string{"first", "second"},
	})
	require.Equal(t, "first", PostingKey(ko))

	ko = testConfig(t, map[string]any{"hive.posting_key": "single"})
	require.Equal(t, "single", PostingKey(ko))

	require.Equal(t, "", PostingKey(koanf.New(".")))
}
