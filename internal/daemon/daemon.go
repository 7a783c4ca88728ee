// Package daemon implements the detection-pipeline daemon lifecycle:
// config load, logging/metrics bring-up, artifact loading, datastore and
// pub/sub wiring, and the signal-driven Start/Run/Stop loop around a
// single internal/pipeline.Pipeline.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"icc.tech/nds/internal/broadcaster"
	"icc.tech/nds/internal/config"
	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/decision"
	logpkg "icc.tech/nds/internal/log"
	"icc.tech/nds/internal/metrics"
	"icc.tech/nds/internal/model"
	"icc.tech/nds/internal/pipeline"
	"icc.tech/nds/internal/pubsub"
	"icc.tech/nds/internal/store"
)

// Daemon owns the process-level lifecycle of the detection pipeline: it
// loads configuration and artifacts once, wires the datastore, pub/sub
// publisher, and alert broadcaster, and runs the Pipeline until asked to
// stop.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	store     *store.Store
	redis     *redis.Client
	publisher *pubsub.Publisher
	hub       *broadcaster.Hub

	metricsServer *metrics.Server
	wsServer      *http.Server
	pipeline      *pipeline.Pipeline
	unsubscribe   func()
	modelErr      error

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration from configPath and builds a Daemon, but does
// not start capturing. pidFile="" disables PID-file bookkeeping.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start brings up logging, metrics, the datastore, pub/sub, the alert
// broadcaster, and the detection pipeline, in that order, rolling back
// whatever was already started if a later step fails.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	slog.Info("starting nds daemon", "hostname", d.config.Node.Hostname, "config", d.configPath)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("start metrics server: %w", err)
	}

	st, err := store.Open(d.config.Store.Path)
	if err != nil {
		d.stopMetrics()
		d.removePIDFile()
		return fmt.Errorf("open datastore: %w", err)
	}
	d.store = st

	d.redis = redis.NewClient(&redis.Options{Addr: d.config.Redis.Addr})
	d.publisher = pubsub.NewPublisher(d.redis, d.config.Redis.AlertChannel, d.config.Redis.ThreatScoreKey, d.config.Redis.SmoothingAlpha)

	d.hub = broadcaster.NewHub(d.config.Redis.AlertChannel, d.config.WS.SendQueueLength)
	unsubscribe, err := d.hub.Start(d.ctx, redisSubscriber{d.redis})
	if err != nil {
		d.redis.Close()
		d.store.Close()
		d.stopMetrics()
		d.removePIDFile()
		return fmt.Errorf("subscribe alert broadcaster: %w", err)
	}
	d.unsubscribe = unsubscribe

	if err := d.startWS(); err != nil {
		d.unsubscribe()
		d.redis.Close()
		d.store.Close()
		d.stopMetrics()
		d.removePIDFile()
		return fmt.Errorf("start websocket server: %w", err)
	}

	bundle, err := d.loadBundle()
	if err != nil {
		slog.Warn("entering degraded mode, model artifacts unavailable", "error", err)
		d.modelErr = err
		bundle = nil
	}

	d.pipeline = pipeline.New(pipeline.Config{
		RingCapacity: d.config.Capture.BufferSize,
		SnapLen:      d.config.Capture.SnapLen,
		BPFFilter:    d.config.Capture.BPFFilter,
		IdleTimeout:  time.Duration(d.config.Flow.IdleTimeoutSeconds) * time.Second,
		HardCap:      time.Duration(d.config.Flow.HardCapSeconds) * time.Second,
		Bundle:       bundle,
		MinConfidence: d.config.Model.MinClassificationConfidence,
		AnomalyK:      d.config.Model.AnomalyThresholdK,
		AnomalyZMax:   d.config.Model.AnomalyZMax,
		Weights: decision.Weights{
			Supervised:   d.config.Decision.Weights.Supervised,
			Unsupervised: d.config.Decision.Weights.Unsupervised,
			Reputation:   d.config.Decision.Weights.Reputation,
		},
		ThresholdAttack:    d.config.Decision.ThresholdAttack,
		Store:              d.store,
		Publisher:          d.publisher,
		InferenceWorkers:   d.config.Model.InferenceWorkers,
		InferenceQueueSize: d.config.Model.InferenceQueueSize,
	})

	if err := d.pipeline.Start(d.config.Capture.Interface); err != nil {
		d.unsubscribe()
		d.redis.Close()
		d.store.Close()
		d.stopMetrics()
		d.stopWS()
		d.removePIDFile()
		return fmt.Errorf("start pipeline: %w", err)
	}

	slog.Info("nds daemon started", "degraded", bundle == nil)
	return nil
}

// Stop performs graceful shutdown in reverse of Start's order.
func (d *Daemon) Stop() {
	slog.Info("stopping nds daemon")

	if d.pipeline != nil {
		if err := d.pipeline.Stop(); err != nil {
			slog.Error("pipeline stop error", "error", err)
		}
	}

	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	d.stopWS()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Error("datastore close error", "error", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	d.stopMetrics()
	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("remove pid file error", "error", err)
	}

	slog.Info("nds daemon stopped")
}

// Run blocks until SIGTERM/SIGINT or an external TriggerShutdown, then
// stops the daemon and returns.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	slog.Info("nds daemon running, waiting for signals")

	select {
	case sig := <-d.sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		d.Stop()
		return nil
	case <-d.shutdownChan:
		slog.Info("shutdown triggered programmatically")
		d.Stop()
		return nil
	case <-d.ctx.Done():
		d.Stop()
		return d.ctx.Err()
	}
}

// TriggerShutdown requests graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Pipeline exposes the running pipeline for status queries.
func (d *Daemon) Pipeline() *pipeline.Pipeline {
	return d.pipeline
}

func (d *Daemon) loadBundle() (*model.Bundle, error) {
	b, err := model.Load(d.config.Model.Dir)
	if err != nil {
		if errors.Is(err, core.ErrArtifactMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("load model artifacts: %w", err)
	}
	return b, nil
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.SetDefault(slog.Default())
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	d.metricsServer.SetHealthFunc(d.healthChecks)
	d.metricsServer.SetModelsStatusFunc(d.modelsStatus)
	return d.metricsServer.Start(d.ctx)
}

// healthChecks reports the capture/model/datastore/pubsub booleans behind
// /healthz and the "nds status" CLI command.
func (d *Daemon) healthChecks() map[string]bool {
	checks := map[string]bool{
		"capture":   false,
		"model":     false,
		"datastore": d.store != nil,
		"pubsub":    false,
	}

	if d.pipeline != nil {
		st := d.pipeline.Status()
		checks["capture"] = st.Capture.Running
		checks["model"] = !st.Degraded
	}

	if d.redis != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		checks["pubsub"] = d.redis.Ping(pingCtx).Err() == nil
	}

	return checks
}

// modelsStatus reports the model bundle's availability and, when
// unavailable because a specific artifact is missing, names it. This is
// spec.md's models_status() operation, distinct from the single
// "model" boolean folded into healthChecks.
func (d *Daemon) modelsStatus() map[string]any {
	if d.modelErr == nil {
		return map[string]any{"available": true}
	}

	status := map[string]any{
		"available": false,
		"error":     d.modelErr.Error(),
	}

	var missing *model.MissingArtifactError
	if errors.As(d.modelErr, &missing) {
		status["missing_artifact"] = missing.Artifact
	}
	return status
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Stop(shutdownCtx); err != nil {
		slog.Error("metrics server stop error", "error", err)
	}
}

func (d *Daemon) startWS() error {
	mux := http.NewServeMux()
	mux.HandleFunc(d.config.WS.Path, d.hub.ServeWS)
	d.wsServer = &http.Server{Addr: d.config.WS.Listen, Handler: mux}

	go func() {
		if err := d.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket server error", "error", err)
		}
	}()
	slog.Info("websocket broadcaster started", "addr", d.config.WS.Listen, "path", d.config.WS.Path)
	return nil
}

func (d *Daemon) stopWS() {
	if d.wsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.wsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("websocket server shutdown error", "error", err)
	}
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// redisSubscriber adapts *redis.Client to broadcaster.Subscriber.
type redisSubscriber struct {
	client *redis.Client
}

func (s redisSubscriber) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
