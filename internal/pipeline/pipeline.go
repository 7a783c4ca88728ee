// Package pipeline wires the Sniffer, FlowBuilder, FeatureExtractor,
// preprocessing chain, predictors, and DecisionEngine into the single
// running detection pipeline, grounded on the teacher's Task
// start/stop lifecycle discipline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"icc.tech/nds/internal/capture"
	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/decision"
	"icc.tech/nds/internal/feature"
	"icc.tech/nds/internal/flow"
	"icc.tech/nds/internal/metrics"
	"icc.tech/nds/internal/model"
	"icc.tech/nds/internal/preprocess"
)

// defaultIPReputation is used for every flow: this repository carries no
// HTTP client for an external reputation provider, per the resolved
// open question in DESIGN.md. 0.5 is the spec's "unknown" value.
const defaultIPReputation = 0.5

const (
	defaultDrainBatchSize  = 256
	defaultDrainIdleBackoff = 10 * time.Millisecond
	defaultPollInterval    = 1 * time.Second
)

// state mirrors the teacher's Task lifecycle states.
type state string

const (
	stateCreated  state = "created"
	stateRunning  state = "running"
	stateStopping state = "stopping"
	stateStopped  state = "stopped"
)

// Config bundles everything needed to construct a Pipeline.
type Config struct {
	RingCapacity       int
	SnapLen            int
	BPFFilter          string
	IdleTimeout        time.Duration
	HardCap            time.Duration
	Bundle             *model.Bundle
	MinConfidence      float64
	AnomalyK           float64
	AnomalyZMax        float64
	Weights            decision.Weights
	ThresholdAttack    float64
	Store              decision.Datastore
	Publisher          decision.Publisher
	InferenceWorkers   int
	InferenceQueueSize int
}

// Pipeline is the single running detection pipeline: one capture
// goroutine (owned by Sniffer), one flow-builder goroutine, and a pool
// of inference workers.
type Pipeline struct {
	sniffer      *capture.Sniffer
	ring         *capture.Ring
	flowBuilder  *flow.Builder
	chain        *preprocess.Chain
	supervised   *model.SupervisedPredictor
	unsupervised *model.UnsupervisedPredictor
	engine       *decision.Engine
	degraded     bool

	inferenceQueue chan *core.Flow
	workers        int

	mu     sync.Mutex
	st     state
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Pipeline in the created state. Call Start to begin
// capturing. A nil Bundle puts the Pipeline into degraded mode: capture
// and flow-building still run, but no inference workers are spawned, so
// completed flows are dropped rather than scored, per spec.md §4.9's
// degraded-mode contract.
func New(cfg Config) *Pipeline {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 1000
	}
	if cfg.InferenceQueueSize <= 0 {
		cfg.InferenceQueueSize = 1000
	}

	ring := capture.NewRing(cfg.RingCapacity)
	p := &Pipeline{
		sniffer:        capture.NewSniffer(ring, cfg.SnapLen, cfg.BPFFilter),
		ring:           ring,
		flowBuilder:    flow.NewBuilder(cfg.IdleTimeout, cfg.HardCap),
		engine:         decision.NewEngine(cfg.Weights, cfg.ThresholdAttack, cfg.Store, cfg.Publisher),
		inferenceQueue: make(chan *core.Flow, cfg.InferenceQueueSize),
		st:             stateCreated,
	}

	if cfg.Bundle == nil {
		p.degraded = true
		return p
	}

	sup := model.NewSupervisedPredictor(cfg.Bundle.Supervised, cfg.Bundle.Labels, cfg.MinConfidence)
	unsup := model.NewUnsupervisedPredictor(cfg.Bundle.Unsupervised, cfg.Bundle.Thresholds, cfg.AnomalyK, cfg.AnomalyZMax)
	model.WarmUp(sup, unsup, len(cfg.Bundle.Selector.Indices))

	p.chain = preprocess.NewChain(cfg.Bundle)
	p.supervised = sup
	p.unsupervised = unsup

	workers := cfg.InferenceWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p.workers = workers
	return p
}

// Start opens the capture interface and spawns the flow-builder and
// inference-worker goroutines. A setup failure in the Sniffer surfaces
// immediately and leaves the Pipeline in the created state.
func (p *Pipeline) Start(iface string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.st == stateRunning {
		return nil
	}

	if err := p.sniffer.Start(iface); err != nil {
		return fmt.Errorf("start sniffer: %w", err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.flowLoop(p.ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.inferenceWorker(p.ctx)
	}

	p.st = stateRunning
	if p.degraded {
		slog.Warn("pipeline started in degraded mode: model artifacts missing, inference disabled", "interface", iface)
	} else {
		slog.Info("pipeline started", "interface", iface, "workers", p.workers)
	}
	return nil
}

// Degraded reports whether the Pipeline was built without a model
// bundle. In degraded mode capture and flow-building still run but
// completed flows are never scored or persisted.
func (p *Pipeline) Degraded() bool {
	return p.degraded
}

// Stop halts capture first so no more packets enter the ring, then
// cancels the flow-builder and inference-worker goroutines and waits for
// them to return, mirroring the teacher's forward-start/reverse-stop
// discipline. Remaining work is not drained: records still in the ring,
// flows still in the active table, and flows still in the inference
// queue are discarded.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.st != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.st = stateStopping
	p.mu.Unlock()

	if err := p.sniffer.Stop(); err != nil {
		slog.Warn("sniffer stop error", "error", err)
	}

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.st = stateStopped
	p.mu.Unlock()
	slog.Info("pipeline stopped")
	return nil
}

// Status reports capture status plus active/queued flow counts.
type Status struct {
	Capture        capture.Status
	ActiveFlows    int
	InferenceDepth int
	Degraded       bool
}

func (p *Pipeline) Status() Status {
	return Status{
		Capture:        p.sniffer.Status(),
		ActiveFlows:    p.flowBuilder.ActiveCount(),
		InferenceDepth: len(p.inferenceQueue),
		Degraded:       p.degraded,
	}
}

// flowLoop is the sole consumer of the ring and the exclusive owner of
// the flow-builder's active-flow table: it drains batches of packet
// records, folds them into flows, and ticks poll_timeouts.
func (p *Pipeline) flowLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, f := range p.flowBuilder.PollTimeouts(now) {
				p.enqueue(f)
			}
		default:
		}

		batch := p.ring.DrainBatch(defaultDrainBatchSize)
		if len(batch) == 0 {
			metrics.ActiveFlows.Set(float64(p.flowBuilder.ActiveCount()))
			time.Sleep(defaultDrainIdleBackoff)
			continue
		}

		for _, rec := range batch {
			if f := p.flowBuilder.Ingest(rec); f != nil {
				p.enqueue(f)
			}
		}
	}
}

func (p *Pipeline) enqueue(f *core.Flow) {
	metrics.FlowsCompletedTotal.WithLabelValues(string(f.Reason)).Inc()
	select {
	case p.inferenceQueue <- f:
		metrics.InferenceQueueDepth.Set(float64(len(p.inferenceQueue)))
	default:
		metrics.InferenceDropsTotal.Inc()
		slog.Warn("inference queue full, dropping flow", "flow_id", f.ID)
	}
}

// inferenceWorker runs preprocessing, both predictors, and the decision
// engine for each completed flow it dequeues.
func (p *Pipeline) inferenceWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-p.inferenceQueue:
			if !ok {
				return
			}
			p.processFlow(ctx, f)
		}
	}
}

func (p *Pipeline) processFlow(ctx context.Context, f *core.Flow) {
	start := time.Now()

	raw := feature.Extract(f)
	prepared := p.chain.Transform(raw)

	sup := p.supervised.Predict(prepared)
	metrics.InferenceLatencySeconds.WithLabelValues("supervised").Observe(time.Since(start).Seconds())

	unsupStart := time.Now()
	unsup := p.unsupervised.Predict(prepared)
	metrics.InferenceLatencySeconds.WithLabelValues("unsupervised").Observe(time.Since(unsupStart).Seconds())

	p.engine.Process(ctx, f, sup, unsup, defaultIPReputation)
	metrics.InferenceLatencySeconds.WithLabelValues("total").Observe(time.Since(start).Seconds())
}

// Analyze runs one raw feature vector through the preprocessing chain
// and both predictors, returning the fused Decision without persisting
// or publishing anything. This is the synchronous analyze() entry point
// from spec.md §6's exposed status-endpoint list, used for offline and
// manual scoring independent of a running capture pipeline. A nil
// bundle (degraded mode) is rejected with core.ErrDegraded.
func Analyze(bundle *model.Bundle, weights decision.Weights, thresholdAttack, minConfidence, anomalyK, anomalyZMax float64, raw core.FeatureVector) (core.Decision, error) {
	if bundle == nil {
		return core.Decision{}, core.ErrDegraded
	}
	if len(raw) != core.FeatureVectorLength {
		return core.Decision{}, fmt.Errorf("analyze: expected %d features, got %d", core.FeatureVectorLength, len(raw))
	}

	chain := preprocess.NewChain(bundle)
	sup := model.NewSupervisedPredictor(bundle.Supervised, bundle.Labels, minConfidence)
	unsup := model.NewUnsupervisedPredictor(bundle.Unsupervised, bundle.Thresholds, anomalyK, anomalyZMax)
	prepared := chain.Transform(raw)

	engine := decision.NewEngine(weights, thresholdAttack, nil, nil)
	return engine.Decide(sup.Predict(prepared), unsup.Predict(prepared), defaultIPReputation), nil
}
