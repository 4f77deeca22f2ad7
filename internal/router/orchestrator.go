package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/progress"
	"github.com/af-corp/relay-gateway/internal/router/adapters"
	"github.com/af-corp/relay-gateway/internal/telemetry"
	"github.com/af-corp/relay-gateway/internal/types"
)

// ErrNoSnapshot is returned before any routing configuration has been loaded.
var ErrNoSnapshot = errors.New("routing configuration not loaded")

// Snapshot pairs a routing table with the registry built from the same
// configuration. A request uses one snapshot from start to finish.
type Snapshot struct {
	Table    *Table
	Registry *Registry
}

// NewSnapshot builds the table and registry for one configuration generation.
func NewSnapshot(routing *config.RoutingFile, providers *config.ProvidersConfig, opts adapters.Options) *Snapshot {
	models := routing.ActiveModels()
	return &Snapshot{
		Table:    NewTable(models),
		Registry: BuildRegistry(models, providers, opts),
	}
}

// ExhaustedError is returned when no provider in the resolved order produced
// a response.
type ExhaustedError struct {
	Model     string
	Attempted []string
	// Aborted is set when an auth failure stopped the chain early.
	Aborted bool
	Last    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers failed for %s: %s", e.Model, e.Detail())
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Detail is the last upstream error text, for callers and the audit log.
func (e *ExhaustedError) Detail() string {
	if e.Last == nil {
		return "no provider available"
	}
	return e.Last.Error()
}

// Orchestrator walks the provider order for a request until one adapter succeeds.
type Orchestrator struct {
	snapshot atomic.Pointer[Snapshot]
	cooldown *CooldownTracker
	progress progress.Emitter
	metrics  *telemetry.Metrics
}

func NewOrchestrator(snap *Snapshot, cooldown *CooldownTracker, emitter progress.Emitter, metrics *telemetry.Metrics) *Orchestrator {
	if cooldown == nil {
		cooldown = NewCooldownTracker()
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	o := &Orchestrator{cooldown: cooldown, progress: emitter, metrics: metrics}
	if snap != nil {
		o.snapshot.Store(snap)
	}
	return o
}

// Swap installs a new snapshot. Requests already running keep the old one.
func (o *Orchestrator) Swap(snap *Snapshot) {
	o.snapshot.Store(snap)
}

// Snapshot returns the current snapshot, or nil before the first Swap.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snapshot.Load()
}

func (o *Orchestrator) Cooldown() *CooldownTracker {
	return o.cooldown
}

// Complete runs the fallback chain for req. Rate-limited providers mark the
// requested model in the cooldown tracker and the chain moves on; an auth
// failure ends the chain at once; any other failure moves on. Providers with
// no registered adapter are skipped.
func (o *Orchestrator) Complete(ctx context.Context, requestID string, req *types.UnifiedRequest) (*types.UnifiedResponse, error) {
	snap := o.snapshot.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	start := time.Now()
	order, matched := snap.Table.Resolve(req.Model)
	slog.Debug("resolved provider order", "request_id", requestID, "model", req.Model, "route", matched, "order", order)

	failure := &ExhaustedError{Model: req.Model}
	for _, key := range order {
		if ctx.Err() != nil {
			if failure.Last == nil {
				failure.Last = ctx.Err()
			}
			break
		}
		adapter, ok := snap.Registry.Get(key)
		if !ok {
			continue
		}

		provider, modelKey := SplitKey(key)
		failure.Attempted = append(failure.Attempted, key)
		o.emit(progress.Event{RequestID: requestID, Stage: progress.StageAttemptProvider, Provider: key}, start)

		observe := func(v config.Variant) {
			o.emit(progress.Event{
				RequestID: requestID,
				Stage:     progress.StageAttemptVariant,
				Provider:  key,
				Variant:   v.Model,
				Region:    v.Region,
				Endpoint:  v.Endpoint,
			}, start)
		}

		resp, err := adapter.Complete(ctx, req, observe)
		if err == nil {
			resp.Provider = provider
			resp.RouteKey = modelKey
			o.metrics.RecordAttempt(provider, "success")
			o.emit(progress.Event{RequestID: requestID, Stage: progress.StageSucceeded, Provider: key, Variant: resp.ServedModel, Region: resp.ServedRegion}, start)
			return resp, nil
		}

		class := adapters.ClassOf(err)
		failure.Last = err
		o.metrics.RecordAttempt(provider, string(class))
		o.emit(progress.Event{RequestID: requestID, Stage: progress.StageProviderFailed, Provider: key, Class: string(class)}, start)

		if class == types.FailureRateLimited {
			o.cooldown.MarkLimited(req.Model)
			o.metrics.RecordCooldownMark(req.Model)
			slog.Warn("provider rate limited, trying next", "request_id", requestID, "provider", key, "model", req.Model)
			continue
		}
		if class.Aborts() {
			failure.Aborted = true
			slog.Error("auth failure, stopping fallback chain", "request_id", requestID, "provider", key, "error", err)
			break
		}
		slog.Warn("provider failed, trying next", "request_id", requestID, "provider", key, "class", string(class), "error", err)
	}

	o.emit(progress.Event{RequestID: requestID, Stage: progress.StageExhausted}, start)
	return nil, failure
}

func (o *Orchestrator) emit(ev progress.Event, start time.Time) {
	ev.Elapsed = time.Since(start)
	o.progress.Emit(ev)
}
