/*
   Copyright Docker attest authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/artifact-policy-check/pkg/checks"
	"github.com/docker/artifact-policy-check/pkg/evallog"
	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/docker/artifact-policy-check/pkg/policy"
	"github.com/docker/artifact-policy-check/pkg/telemetry"
	"github.com/docker/artifact-policy-check/pkg/timeline"
	"github.com/docker/artifact-policy-check/pkg/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	instrumentationName = "github.com/docker/artifact-policy-check/pkg/evaluation"
	closeTimeout        = 30 * time.Second
)

// ErrAsyncUnavailable is returned for asynchronous requests when no scheduler is configured.
var ErrAsyncUnavailable = errors.New("asynchronous evaluation is not available")

// Scheduler runs background evaluations. *worker.Pool is the production implementation.
type Scheduler interface {
	Submit(job worker.Job) error
}

// SyncResult is the verdict returned inline to a synchronous caller.
type SyncResult struct {
	Violations    []policy.Violation   `json:"violations"`
	Logs          string               `json:"logs"`
	ViolationType policy.ViolationType `json:"violationType"`
}

// Outcome is either an inline Result or, for asynchronous requests, an acceptance.
type Outcome struct {
	Accepted bool
	Result   *SyncResult
}

type Options struct {
	Reporter  checks.Reporter
	Publisher telemetry.Publisher
	Timelines timeline.Factory
	Scheduler Scheduler
	Log       logrus.FieldLogger
	// ReportEvaluationErrors posts a rejected result when a background evaluation fails
	// before a verdict is known. Otherwise the check suite is left pending.
	ReportEvaluationErrors bool
}

type Orchestrator struct {
	engine       policy.Evaluator
	reporter     checks.Reporter
	publisher    telemetry.Publisher
	timelines    timeline.Factory
	scheduler    Scheduler
	log          logrus.FieldLogger
	reportErrors bool
}

func NewOrchestrator(engine policy.Evaluator, opts *Options) (*Orchestrator, error) {
	if engine == nil {
		return nil, fmt.Errorf("policy evaluator must be set")
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.Scheduler != nil && (opts.Reporter == nil || opts.Timelines == nil) {
		return nil, fmt.Errorf("reporter and timelines must be set for asynchronous evaluation")
	}
	o := &Orchestrator{
		engine:       engine,
		reporter:     opts.Reporter,
		publisher:    opts.Publisher,
		timelines:    opts.Timelines,
		scheduler:    opts.Scheduler,
		log:          opts.Log,
		reportErrors: opts.ReportEvaluationErrors,
	}
	if o.publisher == nil {
		o.publisher = telemetry.NoopPublisher{}
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	return o, nil
}

// Evaluate evaluates req synchronously when it carries no auth token. Otherwise the
// evaluation is scheduled in the background and Evaluate returns an acceptance
// without waiting for it.
func (o *Orchestrator) Evaluate(ctx context.Context, req *Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "Evaluate")
	defer span.End()

	if !req.IsAsync() {
		span.SetAttributes(attribute.String("policycheck.mode", "sync"))
		result, err := o.evaluateSync(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return &Outcome{Result: result}, nil
	}

	span.SetAttributes(attribute.String("policycheck.mode", "async"))
	if o.scheduler == nil {
		return nil, ErrAsyncUnavailable
	}
	j, err := newJob(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("policycheck.check_suite_id", j.checkSuiteID.String()))
	err = o.scheduler.Submit(worker.Job{
		Name: "evaluate " + j.checkSuiteID.String(),
		Run: func(ctx context.Context) error {
			return o.run(ctx, j)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule evaluation: %w", err)
	}
	return &Outcome{Accepted: true}, nil
}

func (o *Orchestrator) evaluateSync(ctx context.Context, req *Request) (*SyncResult, error) {
	logger := evallog.New(o.log, evallog.WithCapture(), evallog.WithVariables(req.Variables))
	ctx = evallog.WithLogger(ctx, logger)

	result, err := o.execute(ctx, logger, req.ImageProvenance, req.PolicyData, req.Variables)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	violations := result.Violations
	if violations == nil {
		violations = []policy.Violation{}
	}
	return &SyncResult{
		Violations:    violations,
		Logs:          logger.Output(),
		ViolationType: result.ViolationType,
	}, nil
}

// execute runs the policy engine and writes its rendered log through logger.
func (o *Orchestrator) execute(ctx context.Context, logger *evallog.Logger, provenance json.RawMessage, policyText string, vars *pipeline.Variables) (*policy.Result, error) {
	if summary, err := policy.SummarizeProvenance(provenance); err == nil {
		logger.Logf(ctx, "Evaluating policy against provenance: %s", summary)
	}
	result, err := o.engine.Evaluate(ctx, &policy.Input{
		Provenance: provenance,
		Policy:     policyText,
		Variables:  pipeline.VariablesMap(vars),
	})
	if err != nil {
		return nil, err
	}
	if out := strings.TrimRight(result.Output, "\n"); out != "" {
		logger.Log(ctx, out)
	}
	return result, nil
}

// run is one background evaluation. The evaluation logger is closed on every path.
func (o *Orchestrator) run(ctx context.Context, j *job) (err error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "BackgroundEvaluation")
	defer span.End()

	log := o.log.WithFields(logrus.Fields{
		"checkSuiteId": j.checkSuiteID.String(),
		"projectId":    j.task.ProjectID,
		"jobId":        j.task.JobID,
	})
	sink := o.timelines.NewSink(&j.task)
	logger := evallog.New(log, evallog.WithRemoteSink(sink), evallog.WithVariables(j.variables))
	ctx = evallog.WithLogger(ctx, logger)

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = logger.Close(closeCtx)
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
			logger.Log(ctx, err.Error())
			if o.reportErrors {
				o.reportFailure(ctx, logger, j, err)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	err = o.evaluateAndReport(ctx, logger, sink, j)
	if err != nil {
		logger.Log(ctx, err.Error())
		if o.reportErrors {
			o.reportFailure(ctx, logger, j, err)
		}
	}
	return err
}

func (o *Orchestrator) evaluateAndReport(ctx context.Context, logger *evallog.Logger, sink timeline.Sink, j *job) error {
	if err := sink.CreateRecordIfAbsent(ctx); err != nil {
		return err
	}
	logger.Logf(ctx, "Initializing evaluation. Execution id - %s", uuid.NewString())

	result, err := o.execute(ctx, logger, j.provenance, j.policy, j.variables)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	succeeded := result.Succeeded()
	logger.Logf(ctx, "Policy check succeeded: %t", succeeded)

	event := telemetry.EvaluationEvent(&j.task, j.checkSuiteID, succeeded, string(result.ViolationType))

	message := result.Output
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Policy check succeeded: %t", succeeded)
	}
	if err := o.reporter.Report(ctx, &j.task, j.checkSuiteID, succeeded, message); err != nil {
		logger.Logf(ctx, "Failed to update check status with error message : %v", err)
	}

	o.publisher.Publish(ctx, &j.task, event)
	return nil
}

func (o *Orchestrator) reportFailure(ctx context.Context, logger *evallog.Logger, j *job, cause error) {
	message := fmt.Sprintf("Policy evaluation failed: %v", cause)
	if err := o.reporter.Report(ctx, &j.task, j.checkSuiteID, false, message); err != nil {
		logger.Logf(ctx, "Failed to update check status with error message : %v", err)
	}
}
