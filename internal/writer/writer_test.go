package writer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/internal/settings"
)

// fakeSettings is a fixed settings snapshot provider.
type fakeSettings struct {
	s settings.Settings
}

func (f *fakeSettings) Settings() settings.Settings { return f.s }

// fakeChain records calls and pops one scripted error per broadcast.
type fakeChain struct {
	mu            sync.Mutex
	broadcasts    []hive.CustomJSONOp
	broadcastErrs []error
	advances      int
	rankCalls     int
	rc            hive.ResourceCredits
	rcErr         error
	allowed       map[string]struct{}
	allowedErr    error
	node          string
}

func (f *fakeChain) BroadcastCustomJSON(ctx context.Context, op hive.CustomJSONOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.broadcastErrs) > 0 {
		err, f.broadcastErrs = f.broadcastErrs[0], f.broadcastErrs[1:]
	}
	if err == nil {
		f.broadcasts = append(f.broadcasts, op)
	}
	return err
}

func (f *fakeChain) CurrentNode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.node == "" {
		return "https://fake.node"
	}
	return f.node
}

func (f *fakeChain) NextNode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances++
	return f.node
}

func (f *fakeChain) RankNodes(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankCalls++
	return nil
}

func (f *fakeChain) AllowedAccounts(ctx context.Context, controlAccount string) (map[string]struct{}, error) {
	if f.allowedErr != nil {
		return nil, f.allowedErr
	}
	return f.allowed, nil
}

func (f *fakeChain) ResourceCredits(ctx context.Context, account string) (hive.ResourceCredits, error) {
	return f.rc, f.rcErr
}

func (f *fakeChain) EstimateCustomJSONCost(payloadSize int) float64 {
	return 1e9
}

func (f *fakeChain) advanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advances
}

func (f *fakeChain) sentOps() []hive.CustomJSONOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hive.CustomJSONOp(nil), f.broadcasts...)
}

// newTestWriter wires a writer to fakes with instant retry sleeps.
func newTestWriter(chain Chain, snap settings.Settings, cfg Config) (*Writer, *[]time.Duration) {
	if cfg.ServerAccount == "" {
		cfg.ServerAccount = "testaccount"
	}
	if cfg.Medium == "" {
		cfg.Medium = "podcast"
	}
	if cfg.Reason == "" {
		cfg.Reason = "update"
	}
	w := New(zerolog.Nop(), chain, &fakeSettings{s: snap}, cfg)
	sleeps := &[]time.Duration{}
	w.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return ctx.Err()
	}
	return w, sleeps
}

func testSettings() settings.Settings {
	s := settings.Default()
	s.HiveOperationPeriod = 80 * time.Millisecond
	s.DiagnosticReportPeriod = 50 * time.Millisecond
	return s
}
