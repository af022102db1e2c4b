// Package settings supplies the writer's tunable parameters: local
// defaults overridable by the control account's on-chain metadata.
package settings

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// metadataKey is the field of the control account's posting_json_metadata
// holding the published overrides.
const metadataKey = "podping-settings"

// Settings is an immutable configuration snapshot. Consumers re-read it
// per use; a snapshot is never cached across loop iterations.
type Settings struct {
	HiveOperationPeriod       time.Duration
	MaxURLListBytes           int
	DiagnosticReportPeriod    time.Duration
	ControlAccount            string
	ControlAccountCheckPeriod time.Duration
}

// Default returns the stock settings matching Hive's block cadence and
// custom_json payload budget.
func Default() Settings {
	return Settings{
		HiveOperationPeriod:       3 * time.Second,
		MaxURLListBytes:           8000,
		DiagnosticReportPeriod:    180 * time.Second,
		ControlAccount:            "podping",
		ControlAccountCheckPeriod: 180 * time.Second,
	}
}

// MetadataReader fetches an account's posting_json_metadata document.
type MetadataReader interface {
	AccountMetadata(ctx context.Context, account string) ([]byte, error)
}

// Manager holds the current settings snapshot and refreshes it from the
// control account's published metadata.
type Manager struct {
	log    zerolog.Logger
	reader MetadataReader

	mu      sync.RWMutex
	current Settings
}

// NewManager creates a manager seeded with base. reader may be nil, in
// which case the snapshot never changes.
func NewManager(logger zerolog.Logger, base Settings, reader MetadataReader) *Manager {
	return &Manager{
		log:     logger.With().Str("component", "settings").Logger(),
		reader:  reader,
		current: base,
	}
}

// Settings returns the current snapshot.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Run periodically refreshes overrides from the control account until the
// context is cancelled. Fetch and parse errors are logged and swallowed.
func (m *Manager) Run(ctx context.Context) error {
	if m.reader == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		period := m.Settings().ControlAccountCheckPeriod
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
		if err := m.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Error().Err(err).Msg("failed to refresh settings")
		}
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	account := m.Settings().ControlAccount
	raw, err := m.reader.AccountMetadata(ctx, account)
	if err != nil {
		return err
	}
	next, changed, err := m.Settings().withOverrides(raw)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	m.log.Info().
		Dur("hive_operation_period", next.HiveOperationPeriod).
		Int("max_url_list_bytes", next.MaxURLListBytes).
		Dur("diagnostic_report_period", next.DiagnosticReportPeriod).
		Str("control_account", next.ControlAccount).
		Msg("applied settings from control account")
	return nil
}

// overrides is the on-chain settings document. Periods are in seconds.
type overrides struct {
	HiveOperationPeriod       *int    `json:"hive_operation_period"`
	MaxURLListBytes           *int    `json:"max_url_list_bytes"`
	DiagnosticReportPeriod    *int    `json:"diagnostic_report_period"`
	ControlAccount            *string `json:"control_account"`
	ControlAccountCheckPeriod *int    `json:"control_account_check_period"`
}

func (s Settings) withOverrides(metadata []byte) (Settings, bool, error) {
	if len(metadata) == 0 {
		return s, false, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &doc); err != nil {
		return s, false, err
	}
	raw, ok := doc[metadataKey]
	if !ok {
		return s, false, nil
	}
	var ov overrides
	if err := json.Unmarshal(raw, &ov); err != nil {
		return s, false, err
	}

	next := s
	if ov.HiveOperationPeriod != nil {
		next.HiveOperationPeriod = time.Duration(*ov.HiveOperationPeriod) * time.Second
	}
	if ov.MaxURLListBytes != nil {
		next.MaxURLListBytes = *ov.MaxURLListBytes
	}
	if ov.DiagnosticReportPeriod != nil {
		next.DiagnosticReportPeriod = time.Duration(*ov.DiagnosticReportPeriod) * time.Second
	}
	if ov.ControlAccount != nil {
		next.ControlAccount = *ov.ControlAccount
	}
	if ov.ControlAccountCheckPeriod != nil {
		next.ControlAccountCheckPeriod = time.Duration(*ov.ControlAccountCheckPeriod) * time.Second
	}
	return next, next != s, nil
}
