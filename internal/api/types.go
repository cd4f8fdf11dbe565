package api

import "time"

// BatchExecutionRequest asks for one plugin invocation per resource.
type BatchExecutionRequest struct {
	PackageName               string                     `json:"packageName" validate:"required"`
	EntityName                string                     `json:"entityName" validate:"required"`
	PluginConfigInterface     PluginConfigInterfaceRef   `json:"pluginConfigInterface"`
	InputParameterDefinitions []InputParameterDefinition `json:"inputParameterDefinitions" validate:"dive"`
	ResourceDatas             []ResourceData             `json:"resourceDatas" validate:"required,min=1,dive"`
}

type PluginConfigInterfaceRef struct {
	ID string `json:"id" validate:"required"`
}

type InputParameterDefinition struct {
	InputParameter      InputParameter `json:"inputParameter"`
	InputParameterValue any            `json:"inputParameterValue"`
}

type InputParameter struct {
	Name                      string `json:"name" validate:"required"`
	DataType                  string `json:"dataType" validate:"omitempty,oneof=string number"`
	MappingType               string `json:"mappingType" validate:"omitempty,oneof=entity system_variable constant context"`
	MappingEntityExpression   string `json:"mappingEntityExpression" validate:"required_if=MappingType entity"`
	MappingSystemVariableName string `json:"mappingSystemVariableName" validate:"required_if=MappingType system_variable"`
	Required                  string `json:"required" validate:"omitempty,oneof=Y N"`
}

type ResourceData struct {
	ID               string `json:"id" validate:"required"`
	BusinessKeyValue any    `json:"businessKeyValue"`
}

// Response is the envelope of every batch-execution endpoint.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	statusOK    = "OK"
	statusError = "ERROR"
)

type BatchResponse struct {
	ID          string        `json:"id"`
	CreatedAt   string        `json:"createdAt"`
	CompletedAt string        `json:"completedAt,omitempty"`
	AbandonedAt string        `json:"abandonedAt,omitempty"`
	FailedJobs  int           `json:"failedJobs"`
	Jobs        []JobResponse `json:"jobs"`
}

type JobResponse struct {
	ID                      string              `json:"id"`
	RootEntityID            string              `json:"rootEntityId"`
	PluginConfigInterfaceID string              `json:"pluginConfigInterfaceId"`
	PackageName             string              `json:"packageName"`
	EntityName              string              `json:"entityName"`
	BusinessKey             string              `json:"businessKey"`
	State                   string              `json:"state"`
	ReturnJSON              string              `json:"returnJson,omitempty"`
	ErrorCode               string              `json:"errorCode,omitempty"`
	ErrorMessage            string              `json:"errorMessage,omitempty"`
	Parameters              []ParameterResponse `json:"parameters"`
}

type ParameterResponse struct {
	Name        string `json:"name"`
	DataType    string `json:"dataType"`
	MappingType string `json:"mappingType"`
	Required    bool   `json:"required"`
	Value       string `json:"value"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
