package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// Starter is the part of the Temporal client the trigger needs.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalConfig configures workflow starts.
type TemporalConfig struct {
	TaskQueue    string
	WorkflowType string
	// ExecutionTimeout bounds the whole run. Zero leaves it to the server.
	ExecutionTimeout time.Duration
}

// TemporalTrigger starts a Temporal workflow whose ID is the job id, so a
// retried dispatch cannot start a second run.
type TemporalTrigger struct {
	client Starter
	cfg    TemporalConfig
}

// NewTemporalTrigger creates a trigger on an existing Temporal client.
func NewTemporalTrigger(c Starter, cfg TemporalConfig) *TemporalTrigger {
	if cfg.WorkflowType == "" {
		cfg.WorkflowType = "ScrapeRegistry"
	}
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = "registry-scrape"
	}
	return &TemporalTrigger{client: c, cfg: cfg}
}

// DialTemporal connects to a Temporal frontend.
func DialTemporal(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    zapAdapter{l: zap.L().Named("temporal").Sugar()},
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: dial temporal")
	}
	return c, nil
}

// Trigger implements Trigger. An already-running workflow for the job counts
// as success.
func (t *TemporalTrigger) Trigger(ctx context.Context, r Request) error {
	opts := client.StartWorkflowOptions{
		ID:                                       r.JobID,
		TaskQueue:                                t.cfg.TaskQueue,
		WorkflowExecutionTimeout:                 t.cfg.ExecutionTimeout,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := t.client.ExecuteWorkflow(ctx, opts, t.cfg.WorkflowType, r)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			zap.L().Info("workflow: already started", zap.String("job_id", r.JobID))
			return nil
		}
		return classifyTemporal(err)
	}

	if run != nil {
		zap.L().Info("workflow: started",
			zap.String("job_id", r.JobID),
			zap.String("run_id", run.GetRunID()),
		)
	}
	return nil
}

func classifyTemporal(err error) error {
	wrapped := eris.Wrap(err, "workflow: execute workflow")

	var (
		unavailable *serviceerror.Unavailable
		exhausted   *serviceerror.ResourceExhausted
		deadline    *serviceerror.DeadlineExceeded
	)
	switch {
	case errors.As(err, &unavailable), errors.As(err, &exhausted), errors.As(err, &deadline),
		resilience.IsTransient(err):
		return resilience.NewTransientError(wrapped, 0)
	}

	var denied *serviceerror.PermissionDenied
	if errors.As(err, &denied) {
		return &resilience.AuthError{Err: wrapped}
	}
	return resilience.NewPermanentError(wrapped, 0)
}

// zapAdapter satisfies the Temporal SDK logger interface.
type zapAdapter struct {
	l *zap.SugaredLogger
}

func (a zapAdapter) Debug(msg string, keyvals ...interface{}) { a.l.Debugw(msg, keyvals...) }
func (a zapAdapter) Info(msg string, keyvals ...interface{})  { a.l.Infow(msg, keyvals...) }
func (a zapAdapter) Warn(msg string, keyvals ...interface{})  { a.l.Warnw(msg, keyvals...) }
func (a zapAdapter) Error(msg string, keyvals ...interface{}) { a.l.Errorw(msg, keyvals...) }
