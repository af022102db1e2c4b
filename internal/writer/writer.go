// Package writer implements the podping ingest-to-publish pipeline.
//
// IRIs arrive on a request-reply socket, are validated and queued, then
// coalesced into deduplicated batches bounded by block cadence and payload
// size, and finally published as signed custom_json operations with
// bounded retry and node rotation. A startup probe validates credentials
// and estimates ping capacity before the first batch is allowed out.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/internal/iri"
	"github.com/innerwebblueprint/podping-hivewriter/internal/settings"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

// HiveCustomOpDataMaxLength is the chain's custom_json payload cap.
const HiveCustomOpDataMaxLength = 8192

// Process exit codes for startup and authorisation failures.
const (
	ExitCodeUnknown           = 10
	ExitCodeInvalidPostingKey = 20
)

// Ingress reply frames.
const (
	replyOK         = "OK"
	replyInvalidIRI = "Invalid IRI"
	replyQueueFull  = "Queue full"
)

var (
	// ErrInvalidIRI rejects an ingress candidate that fails RFC 3987.
	ErrInvalidIRI = errors.New("invalid IRI")
	// ErrQueueFull rejects an ingress candidate when the IRI queue cap is hit.
	ErrQueueFull = errors.New("IRI queue full")
)

// ExitError routes a fatal condition to the top-level supervisor, which
// shuts down in order and exits the process with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("fatal (exit code %d): %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Chain is the chain-client capability surface the writer consumes.
// *hive.Client satisfies it.
type Chain interface {
	BroadcastCustomJSON(ctx context.Context, op hive.CustomJSONOp) error
	CurrentNode() string
	NextNode() string
	RankNodes(ctx context.Context) error
	AllowedAccounts(ctx context.Context, controlAccount string) (map[string]struct{}, error)
	ResourceCredits(ctx context.Context, account string) (hive.ResourceCredits, error)
	EstimateCustomJSONCost(payloadSize int) float64
}

// SettingsProvider yields the current settings snapshot.
type SettingsProvider interface {
	Settings() settings.Settings
}

// Config holds writer configuration.
type Config struct {
	ServerAccount string
	Medium        models.Medium
	Reason        models.Reason
	ListenIP      string
	ListenPort    int
	OperationID   string // operation id prefix, e.g. "pp"
	ResourceTest  bool
	DryRun        bool
	Daemon        bool
	Status        bool
	Version       string

	// MaxRetries bounds publish retries per batch; 0 retries forever.
	MaxRetries int
	// IRIQueueCap and BatchQueueCap size the internal queues. When the
	// IRI queue is full, ingress replies with a distinct rejection frame
	// instead of blocking.
	IRIQueueCap   int
	BatchQueueCap int
}

// Writer runs the ingest-to-publish pipeline.
type Writer struct {
	cfg      Config
	log      zerolog.Logger
	chain    Chain
	settings SettingsProvider

	iriQueue    chan string
	batchQueue  chan models.IRIBatch
	startupDone chan struct{}

	inFlightMu sync.Mutex
	inFlight   int

	totalRecv    atomic.Uint64
	totalDeduped atomic.Uint64
	totalSent    atomic.Uint64

	startedAt time.Time

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a writer. The pipeline does not run until Run is called.
func New(logger zerolog.Logger, chain Chain, provider SettingsProvider, cfg Config) *Writer {
	if cfg.OperationID == "" {
		cfg.OperationID = "pp"
	}
	if cfg.IRIQueueCap <= 0 {
		cfg.IRIQueueCap = 65536
	}
	if cfg.BatchQueueCap <= 0 {
		cfg.BatchQueueCap = 1024
	}
	return &Writer{
		cfg:         cfg,
		log:         logger.With().Str("component", "writer").Logger(),
		chain:       chain,
		settings:    provider,
		iriQueue:    make(chan string, cfg.IRIQueueCap),
		batchQueue:  make(chan models.IRIBatch, cfg.BatchQueueCap),
		startupDone: make(chan struct{}),
		startedAt:   time.Now(),
		sleep:       sleepCtx,
	}
}

// Run executes the startup probe and, in daemon mode, the pipeline loops
// until the context is cancelled or a fatal condition occurs. A returned
// *ExitError carries the process exit code.
func (w *Writer) Run(ctx context.Context) error {
	if !w.cfg.Daemon {
		if err := w.startupProbe(ctx); err != nil {
			return err
		}
		close(w.startupDone)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 8)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("startup", w.runStartup)
	start("ingress", w.runIngress)
	start("coalescer", w.runCoalescer)
	start("submitter", w.runSubmitter)
	if w.cfg.Status {
		start("status", w.runStatus)
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
		w.log.Error().Err(err).Msg("pipeline task failed")
	}
	cancel()
	wg.Wait()
	return err
}

// AcceptIRI validates a candidate and enqueues it for coalescing. The
// in-flight counter is incremented only for accepted IRIs.
func (w *Writer) AcceptIRI(candidate string) error {
	if !iri.Valid(candidate) {
		irisRejected.WithLabelValues("invalid").Inc()
		return ErrInvalidIRI
	}
	select {
	case w.iriQueue <- candidate:
	default:
		irisRejected.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
	w.inFlightMu.Lock()
	w.inFlight++
	w.inFlightMu.Unlock()
	w.totalRecv.Add(1)
	irisReceived.Inc()
	inFlightIRIs.Inc()
	return nil
}

// retireBatch settles the in-flight accounting for a batch that is done,
// whether it was published or dropped.
func (w *Writer) retireBatch(n int) {
	w.inFlightMu.Lock()
	w.inFlight -= n
	w.inFlightMu.Unlock()
	inFlightIRIs.Sub(float64(n))
}

// InFlight returns the number of IRIs accepted but not yet retired.
func (w *Writer) InFlight() int {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()
	return w.inFlight
}

// Totals returns the received / deduplicated / sent IRI counters.
func (w *Writer) Totals() (recv, deduped, sent uint64) {
	return w.totalRecv.Load(), w.totalDeduped.Load(), w.totalSent.Load()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
