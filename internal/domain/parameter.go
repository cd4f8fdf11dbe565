package domain

type DataType string

const (
	DataTypeString DataType = "string"
	DataTypeNumber DataType = "number"
)

// MappingType names the source a parameter value is drawn from.
type MappingType string

const (
	MappingTypeEntity         MappingType = "entity"
	MappingTypeSystemVariable MappingType = "system_variable"
	MappingTypeConstant       MappingType = "constant"
	MappingTypeContext        MappingType = "context"
)

// NeedsLookup reports whether the value must be resolved before the call.
// Constant, context and unset mappings keep the caller-supplied value.
func (m MappingType) NeedsLookup() bool {
	return m == MappingTypeEntity || m == MappingTypeSystemVariable
}

// ExecutionJobParameter is one declared input of the target interface,
// carried on a job. Only one of MappingEntityExpression and
// MappingSystemVariableName is meaningful, chosen by MappingType.
type ExecutionJobParameter struct {
	Name                      string
	DataType                  DataType
	MappingType               MappingType
	MappingEntityExpression   string
	MappingSystemVariableName string
	Required                  bool

	Value string
}

// InterfaceParameter is the parameter metadata declared by a plugin
// config interface.
type InterfaceParameter struct {
	ID                        string
	Name                      string
	DataType                  DataType
	MappingType               MappingType
	MappingEntityExpression   string
	MappingSystemVariableName string
	Required                  bool
}

// ExpressionCriteria asks the data-model evaluator for the values reached
// by Expression starting from the root entity instance.
type ExpressionCriteria struct {
	Expression   string
	RootEntityID string
}

// SystemVariable is a named, package-scoped configuration value.
type SystemVariable struct {
	PackageName  string
	Name         string
	Value        string
	DefaultValue string
}
