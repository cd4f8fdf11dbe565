package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yyri/wecube-platform/internal/domain"
	"github.com/yyri/wecube-platform/internal/metrics"
	"github.com/yyri/wecube-platform/internal/plugin"
)

// InterfaceLookup finds plugin config interfaces by id.
// GetPluginConfigInterface returns domain.ErrNotFound for unknown ids.
type InterfaceLookup interface {
	GetPluginConfigInterface(ctx context.Context, id string) (domain.PluginConfigInterface, error)
}

// InstanceResolver returns a running instance of a plugin package, or
// domain.ErrNoRunningInstance.
type InstanceResolver interface {
	GetRunningInstance(ctx context.Context, packageName string) (domain.PluginInstance, error)
}

// PluginCaller performs the remote call and returns the raw response body.
type PluginCaller interface {
	Call(ctx context.Context, address, path string, inputs []map[string]any, requestID string) ([]byte, error)
}

// Breaker guards calls per plugin instance address.
type Breaker interface {
	Allow(address string) error
	RecordSuccess(address string)
	RecordFailure(address string)
}

// Invoker calls the plugin interface for a resolved job.
type Invoker struct {
	interfaces InterfaceLookup
	instances  InstanceResolver
	caller     PluginCaller
	breaker    Breaker     // optional, nil = disabled
	metrics    MetricsSink // optional, nil = disabled
	policy     domain.OutputPolicy
	clock      func() time.Time
	logger     *log.Logger
}

func NewInvoker(interfaces InterfaceLookup, instances InstanceResolver, caller PluginCaller) *Invoker {
	return &Invoker{
		interfaces: interfaces,
		instances:  instances,
		caller:     caller,
		policy:     domain.FirstOutput,
		clock:      time.Now,
		logger:     log.Default().WithPrefix("invoker"),
	}
}

// WithBreaker attaches a per-instance circuit breaker.
func (i *Invoker) WithBreaker(b Breaker) *Invoker {
	i.breaker = b
	return i
}

// WithMetrics attaches a metrics sink to the invoker.
func (i *Invoker) WithMetrics(sink MetricsSink) *Invoker {
	i.metrics = sink
	return i
}

// WithOutputPolicy replaces the primary output selection.
func (i *Invoker) WithOutputPolicy(policy domain.OutputPolicy) *Invoker {
	i.policy = policy
	return i
}

func (i *Invoker) WithLogger(logger *log.Logger) *Invoker {
	i.logger = logger.WithPrefix("invoker")
	return i
}

// Invoke calls the job's plugin interface. Job-level failures are recorded
// on the job and returned as an error-shaped result with a nil error; a
// non-nil error means the call could not be attempted or the transport
// failed in a way that is not attributable to the job.
func (i *Invoker) Invoke(ctx context.Context, job *domain.ExecutionJob) (domain.ResultData, error) {
	if err := job.Transition(domain.JobStateInvoking); err != nil {
		return domain.ResultData{}, err
	}

	desc, err := i.interfaces.GetPluginConfigInterface(ctx, job.PluginConfigInterfaceID)
	if errors.Is(err, domain.ErrNotFound) {
		return i.fail(job, fmt.Sprintf("plugin config interface not found: %s", job.PluginConfigInterfaceID))
	}
	if err != nil {
		return domain.ResultData{}, fmt.Errorf("get plugin config interface %s: %w", job.PluginConfigInterfaceID, err)
	}

	params, err := callParameters(job.Parameters)
	if err != nil {
		return i.fail(job, err.Error())
	}

	instance, err := i.instances.GetRunningInstance(ctx, desc.PackageName)
	if errors.Is(err, domain.ErrNoRunningInstance) {
		return i.fail(job, fmt.Sprintf("no running instance of plugin package %s", desc.PackageName))
	}
	if err != nil {
		return domain.ResultData{}, fmt.Errorf("get running instance of %s: %w", desc.PackageName, err)
	}
	address := instance.Address()
	target := fmt.Sprintf("interface[%s][%s%s]", desc.ID, address, desc.Path)

	if i.breaker != nil {
		if err := i.breaker.Allow(address); err != nil {
			return i.fail(job, fmt.Sprintf("call to %s rejected: %v", target, err))
		}
	}

	requestID := "RequestId-" + strconv.FormatInt(i.clock().UnixMilli(), 10)
	i.logger.Info("calling plugin", "job", job.ID, "business_key", job.BusinessKey, "target", target, "request_id", requestID)

	start := time.Now()
	body, err := i.caller.Call(ctx, address, desc.Path, []map[string]any{params}, requestID)
	i.recordCall(address, err, time.Since(start))
	if err != nil {
		if ctx.Err() == nil && plugin.IsTimeout(err) {
			return i.fail(job, fmt.Sprintf("call to %s with parameters[%v] timed out", target, params))
		}
		return domain.ResultData{}, fmt.Errorf("call %s: %w", target, err)
	}

	result := plugin.Normalize(body)
	primary, ok := i.policy(result.Outputs)
	if !ok {
		return i.fail(job, fmt.Sprintf("call to %s with parameters[%v] produced no response", target, params))
	}

	job.RecordOutput(primary, string(body))
	next := domain.JobStateCompleted
	if !primary.Succeeded() {
		next = domain.JobStateInvokeFailed
		i.logger.Warn("plugin reported failure", "job", job.ID, "business_key", job.BusinessKey,
			"error_code", primary.ErrorCode, "error_message", primary.ErrorMessage)
	}
	if err := job.Transition(next); err != nil {
		return domain.ResultData{}, err
	}
	return result, nil
}

func (i *Invoker) fail(job *domain.ExecutionJob, message string) (domain.ResultData, error) {
	i.logger.Error(message, "job", job.ID, "business_key", job.BusinessKey)
	job.Fail(message)
	if err := job.Transition(domain.JobStateInvokeFailed); err != nil {
		return domain.ResultData{}, err
	}
	return domain.ErrorResult(message), nil
}

func (i *Invoker) recordCall(address string, err error, d time.Duration) {
	if i.metrics != nil {
		i.metrics.PluginCallCompleted(metrics.ClassifyStatus(plugin.StatusCode(err), err), d)
	}
	if i.breaker == nil {
		return
	}
	if err != nil {
		i.breaker.RecordFailure(address)
		return
	}
	i.breaker.RecordSuccess(address)
}

// callParameters builds the single input map of a call. Numbers are coerced
// to integers; strings and system-variable mapped values pass through.
func callParameters(params []domain.ExecutionJobParameter) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, p := range params {
		switch {
		case p.DataType == domain.DataTypeNumber:
			n, err := strconv.Atoi(p.Value)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: value %q is not a valid integer", p.Name, p.Value)
			}
			out[p.Name] = n
		case p.DataType == domain.DataTypeString || p.MappingType == domain.MappingTypeSystemVariable:
			out[p.Name] = p.Value
		}
	}
	return out, nil
}
