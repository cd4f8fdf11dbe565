package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/yyri/wecube-platform/internal/domain"
)

// Builder turns a batch request into one job per resource entity. It only
// constructs; no parameter is resolved here.
type Builder struct {
	newID func() uuid.UUID
	clock func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		newID: uuid.New,
		clock: time.Now,
	}
}

// Build creates the batch in request order. Every job gets its own copy of
// the parameter list.
func (b *Builder) Build(req domain.BatchRequest) *domain.BatchExecutionJob {
	batch := &domain.BatchExecutionJob{
		ID:        b.newID(),
		Jobs:      make([]*domain.ExecutionJob, 0, len(req.ResourceData)),
		CreatedAt: b.clock().UTC(),
	}

	for i, resource := range req.ResourceData {
		batch.Jobs = append(batch.Jobs, &domain.ExecutionJob{
			ID:                      b.newID(),
			BatchID:                 batch.ID,
			Position:                i,
			RootEntityID:            resource.ID,
			PluginConfigInterfaceID: req.PluginConfigInterfaceID,
			PackageName:             req.PackageName,
			EntityName:              req.EntityName,
			BusinessKey:             domain.StringValue(resource.BusinessKeyValue),
			Parameters:              buildParameters(req.InputParameterDefinitions),
			State:                   domain.JobStateCreated,
		})
	}
	return batch
}

func buildParameters(defs []domain.InputParameterDefinition) []domain.ExecutionJobParameter {
	params := make([]domain.ExecutionJobParameter, 0, len(defs))
	for _, def := range defs {
		p := def.InputParameter
		params = append(params, domain.ExecutionJobParameter{
			Name:                      p.Name,
			DataType:                  p.DataType,
			MappingType:               p.MappingType,
			MappingEntityExpression:   p.MappingEntityExpression,
			MappingSystemVariableName: p.MappingSystemVariableName,
			Required:                  p.Required,
			Value:                     domain.StringValue(def.InputParameterValue),
		})
	}
	return params
}
