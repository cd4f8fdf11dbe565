package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/yyri/wecube-platform/internal/domain"
)

// ExpressionEvaluator resolves a data-model expression against a root
// entity. A nil or empty sequence means the expression could not be
// resolved.
type ExpressionEvaluator interface {
	FetchData(ctx context.Context, criteria domain.ExpressionCriteria) ([]any, error)
}

// VariableStore looks up package-scoped system variables.
// GetSystemVariable returns domain.ErrNotFound when the variable does not exist.
type VariableStore interface {
	GetSystemVariable(ctx context.Context, packageName, name string) (domain.SystemVariable, error)
}

// Resolver fills each job parameter's runtime value from its mapping source.
type Resolver struct {
	evaluator ExpressionEvaluator
	variables VariableStore
	logger    *log.Logger
}

func NewResolver(evaluator ExpressionEvaluator, variables VariableStore) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		variables: variables,
		logger:    log.Default().WithPrefix("resolver"),
	}
}

// WithLogger replaces the resolver's logger.
func (r *Resolver) WithLogger(logger *log.Logger) *Resolver {
	r.logger = logger.WithPrefix("resolver")
	return r
}

// Resolve resolves the job's parameters in declared order. A parameter that
// cannot be resolved fails the job and stops resolution; the job ends in
// parameters_failed and Resolve returns nil. Errors are returned only for
// faults outside the job (cancelled context, unavailable variable store).
func (r *Resolver) Resolve(ctx context.Context, job *domain.ExecutionJob) error {
	if err := job.Transition(domain.JobStateParametersResolving); err != nil {
		return err
	}

	for i := range job.Parameters {
		param := &job.Parameters[i]
		if !param.MappingType.NeedsLookup() {
			continue
		}

		var (
			failure string
			err     error
		)
		switch param.MappingType {
		case domain.MappingTypeEntity:
			failure, err = r.resolveEntity(ctx, job, param)
		case domain.MappingTypeSystemVariable:
			failure, err = r.resolveSystemVariable(ctx, job, param)
		}
		if err != nil {
			return err
		}

		if failure != "" {
			r.logger.Error(failure, "job", job.ID, "business_key", job.BusinessKey, "parameter", param.Name)
			job.Fail(failure)
			return job.Transition(domain.JobStateParametersFailed)
		}
	}

	return job.Transition(domain.JobStateParametersResolved)
}

func (r *Resolver) resolveEntity(ctx context.Context, job *domain.ExecutionJob, param *domain.ExecutionJobParameter) (string, error) {
	expr := param.MappingEntityExpression
	r.logger.Debug("fetching expression data", "expression", expr, "root", job.RootEntityID)

	values, err := r.evaluator.FetchData(ctx, domain.ExpressionCriteria{
		Expression:   expr,
		RootEntityID: job.RootEntityID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("expression evaluation failed", "expression", expr, "root", job.RootEntityID, "err", err)
	}
	if err != nil || len(values) == 0 {
		return fmt.Sprintf("returned null while fetching data with expression: %s", expr), nil
	}

	param.Value = domain.StringValue(values[0])
	return "", nil
}

func (r *Resolver) resolveSystemVariable(ctx context.Context, job *domain.ExecutionJob, param *domain.ExecutionJobParameter) (string, error) {
	missing := fmt.Sprintf("variable is null but is mandatory for %s", param.Name)

	variable, err := r.variables.GetSystemVariable(ctx, job.PackageName, param.MappingSystemVariableName)
	if errors.Is(err, domain.ErrNotFound) {
		if param.Required {
			return missing, nil
		}
		param.Value = ""
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get system variable %s/%s: %w", job.PackageName, param.MappingSystemVariableName, err)
	}

	value := variable.Value
	if isBlank(value) {
		value = variable.DefaultValue
	}
	if isBlank(value) && param.Required {
		return missing, nil
	}

	param.Value = value
	return "", nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
