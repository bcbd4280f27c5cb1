// Package engine implements the DAG execution engine (spec §4.1): level
// scheduling via Kahn's algorithm, per-level concurrent dispatch, template
// resolution, per-node error classification, and level failure
// aggregation. Grounded on the teacher's lifecycle-managed dispatcher
// pattern (internal/app/services/oracle/dispatcher.go,
// internal/app/services/automation/scheduler.go) for the
// per-item-goroutine + tracer-span + WaitGroup shape, generalized from "one
// flat queue of pending items processed per tick" to "one DAG level of
// nodes processed per ExecuteRun call."
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
	"github.com/reflux-run/reflux/internal/core"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/metric"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/metrics"
	"github.com/reflux-run/reflux/internal/runlog"
	"github.com/reflux-run/reflux/internal/storage"
	"github.com/reflux-run/reflux/internal/template"
	"github.com/reflux-run/reflux/pkg/logger"
)

// Dispatcher is the subset of the node bus the engine depends on. Defined
// here (not imported as *bus.Bus directly) so the engine can be tested
// against a stub without constructing a real Bus, matching the teacher's
// "accept interfaces" convention.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, version string, params map[string]any, meta bus.Meta) (map[string]any, error)
}

// Result is executeRun's public contract success value (spec §4.1).
type Result struct {
	Outputs map[string]any
	Nodes   map[string]any
}

// NodeResult is the per-node record stored in context.nodes.
type NodeResult struct {
	Output     map[string]any `json:"output"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Engine executes flow runs against a node dispatch bus.
type Engine struct {
	store      storage.Store
	dispatcher Dispatcher
	logs       *runlog.Writer
	log        *logger.Logger
	tracer     core.Tracer
}

// New constructs an Engine. logs may be nil, in which case step logs are
// dropped; the engine never fails a run because logging failed.
func New(store storage.Store, dispatcher Dispatcher, logs *runlog.Writer, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	return &Engine{store: store, dispatcher: dispatcher, logs: logs, log: log, tracer: core.NoopTracer}
}

// WithTracer configures an optional tracer used for per-node spans.
func (e *Engine) WithTracer(tracer core.Tracer) *Engine {
	if tracer == nil {
		tracer = core.NoopTracer
	}
	e.tracer = tracer
	return e
}

// ExecuteRun runs spec to completion or to its first failing level.
// The caller has already persisted the run row in "pending"; ExecuteRun
// moves it to "running" (a no-op if it has left "pending") and performs the
// terminal transition (completed/failed) via the Run repository. It does
// not re-read the run between levels, so a run marked cancelled while
// executing keeps running until its levels finish.
func (e *Engine) ExecuteRun(ctx context.Context, runID, flowID, flowVersion string, spec flow.FlowSpec, inputs map[string]any) (Result, error) {
	runStart := time.Now()

	if err := spec.Validate(); err != nil {
		e.failRun(ctx, runID, runStart, err.Error())
		return Result{}, err
	}

	if _, err := e.store.Runs().MarkRunning(ctx, runID); err != nil {
		e.log.WithError(err).WithField("run_id", runID).Warn("mark run running failed")
	}

	levels := ComputeLevels(spec)
	nodesByID := make(map[string]flow.Node, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodesByID[n.ID] = n
	}

	nodes := make(map[string]any)
	for levelIdx, level := range levels {
		results := e.runLevel(ctx, runID, levelIdx, level, nodesByID, inputs, nodes)

		var failures []string
		for _, id := range level {
			res := results[id]
			if res.err != nil {
				failures = append(failures, fmt.Sprintf("%s: %s (%s)", id, res.err.Error(), apperr.Classify(res.err)))
				continue
			}
			nodes[id] = map[string]any{
				"output":     res.node.Output,
				"startedAt":  res.node.StartedAt,
				"finishedAt": res.node.FinishedAt,
			}
		}

		if len(failures) > 0 {
			msg := fmt.Sprintf("Workflow failed at level %d. Failed nodes: %s", levelIdx, strings.Join(failures, "; "))
			e.failRun(ctx, runID, runStart, msg)
			return Result{}, apperr.NewExecutionError(msg)
		}
	}

	if _, err := e.store.Runs().MarkCompleted(ctx, runID, nodes); err != nil {
		e.log.WithError(err).WithField("run_id", runID).Warn("mark run completed failed")
	}
	e.emitWorkflowMetric(ctx, flowID, runID, metric.StatusSuccess, "", time.Since(runStart))

	return Result{Outputs: nodes, Nodes: nodes}, nil
}

type nodeOutcome struct {
	node NodeResult
	err  error
}

// runLevel dispatches every node in level concurrently and waits for all
// of them, collecting both successes and failures — siblings are never
// aborted mid-flight because one of them failed (spec §4.1).
func (e *Engine) runLevel(ctx context.Context, runID string, levelIdx int, level []string, nodesByID map[string]flow.Node, inputs map[string]any, nodes map[string]any) map[string]nodeOutcome {
	results := make(map[string]nodeOutcome, len(level))
	var mu sync.Mutex
	var wg sync.WaitGroup

	tctx := template.Context{Inputs: inputs, Nodes: nodes}

	for _, id := range level {
		n := nodesByID[id]
		wg.Add(1)
		go func(n flow.Node) {
			defer wg.Done()

			attrs := map[string]string{"run_id": runID, "node_id": n.ID, "node_type": n.Type}
			spanCtx, finishSpan := e.tracer.StartSpan(ctx, "engine.node.execute", attrs)

			resolvedParams, _ := template.Resolve(n.Params, tctx).(map[string]any)
			started := time.Now().UTC()

			out, err := e.dispatcher.Dispatch(spanCtx, n.Type, bus.DefaultVersion, resolvedParams, bus.Meta{
				RunID:  runID,
				StepID: n.ID,
				Inputs: inputs,
				Nodes:  nodes,
			})
			finished := time.Now().UTC()
			finishSpan(err)

			e.appendLog(runID, n.ID, err, levelIdx)
			e.emitNodeMetric(ctx, runID, n.ID, n.Type, started, finished, err)

			mu.Lock()
			results[n.ID] = nodeOutcome{node: NodeResult{Output: out, StartedAt: started, FinishedAt: finished}, err: err}
			mu.Unlock()
		}(n)
	}

	wg.Wait()
	return results
}

func (e *Engine) appendLog(runID, stepID string, err error, level int) {
	if e.logs == nil {
		return
	}
	entry := run.Log{
		RunID:     runID,
		StepID:    stepID,
		Timestamp: time.Now().UTC(),
		Level:     run.LevelInfo,
		Message:   fmt.Sprintf("node %s dispatched at level %d", stepID, level),
	}
	if err != nil {
		entry.Level = run.LevelError
		entry.Message = fmt.Sprintf("node %s failed at level %d: %s", stepID, level, err.Error())
	}
	e.logs.Append(entry)
}

func (e *Engine) failRun(ctx context.Context, runID string, runStart time.Time, message string) {
	if _, err := e.store.Runs().MarkFailed(ctx, runID, message); err != nil {
		e.log.WithError(err).WithField("run_id", runID).Warn("mark run failed failed")
	}
	e.emitWorkflowMetric(ctx, "", runID, metric.StatusFailure, message, time.Since(runStart))
}

func (e *Engine) emitWorkflowMetric(ctx context.Context, flowID, runID string, status metric.Status, errType string, duration time.Duration) {
	metrics.RecordWorkflowRun(string(status), duration)

	if e.store == nil {
		return
	}
	if err := e.store.Metrics().Record(ctx, metric.Metric{
		Timestamp:  time.Now().UTC(),
		MetricType: metric.TypeWorkflowExecution,
		FlowID:     flowID,
		RunID:      runID,
		Status:     status,
		ErrorType:  errType,
	}); err != nil {
		e.log.WithError(err).Warn("emit workflow metric failed")
	}
}

func (e *Engine) emitNodeMetric(ctx context.Context, runID, nodeID, nodeType string, started, finished time.Time, err error) {
	status := metric.StatusSuccess
	errType := ""
	if err != nil {
		status = metric.StatusFailure
		errType = string(apperr.Classify(err))
	}
	metrics.RecordNodeExecution(nodeType, string(status), errType, finished.Sub(started))

	if e.store == nil {
		return
	}
	duration := finished.Sub(started).Milliseconds()
	if recErr := e.store.Metrics().Record(ctx, metric.Metric{
		Timestamp:  finished,
		MetricType: metric.TypeNodeExecution,
		RunID:      runID,
		NodeID:     nodeID,
		DurationMs: &duration,
		Status:     status,
		ErrorType:  errType,
	}); recErr != nil {
		e.log.WithError(recErr).Warn("emit node metric failed")
	}
}
