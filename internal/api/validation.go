package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yyri/wecube-platform/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateBatchRequest(req BatchExecutionRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// describeFieldError renders a field error using the request's JSON path.
func describeFieldError(fe validator.FieldError) string {
	field := jsonPath(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

var fieldNames = map[string]string{
	"PackageName":               "packageName",
	"EntityName":                "entityName",
	"PluginConfigInterface":     "pluginConfigInterface",
	"ID":                        "id",
	"InputParameterDefinitions": "inputParameterDefinitions",
	"InputParameter":            "inputParameter",
	"Name":                      "name",
	"DataType":                  "dataType",
	"MappingType":               "mappingType",
	"MappingEntityExpression":   "mappingEntityExpression",
	"MappingSystemVariableName": "mappingSystemVariableName",
	"Required":                  "required",
	"ResourceDatas":             "resourceDatas",
}

// jsonPath turns "BatchExecutionRequest.ResourceDatas[0].ID" into
// "resourceDatas[0].id".
func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		name, index, _ := strings.Cut(part, "[")
		if mapped, ok := fieldNames[name]; ok {
			name = mapped
		}
		if index != "" {
			name += "[" + index
		}
		parts[i] = name
	}
	return strings.Join(parts, ".")
}

// toBatchRequest converts a validated request to its domain form.
func toBatchRequest(req BatchExecutionRequest) domain.BatchRequest {
	out := domain.BatchRequest{
		PluginConfigInterfaceID: req.PluginConfigInterface.ID,
		PackageName:             req.PackageName,
		EntityName:              req.EntityName,
	}

	for _, rd := range req.ResourceDatas {
		out.ResourceData = append(out.ResourceData, domain.ResourceData{
			ID:               rd.ID,
			BusinessKeyValue: rd.BusinessKeyValue,
		})
	}

	for _, def := range req.InputParameterDefinitions {
		p := def.InputParameter
		dataType := domain.DataType(p.DataType)
		if dataType == "" {
			dataType = domain.DataTypeString
		}
		out.InputParameterDefinitions = append(out.InputParameterDefinitions, domain.InputParameterDefinition{
			InputParameter: domain.InterfaceParameter{
				Name:                      p.Name,
				DataType:                  dataType,
				MappingType:               domain.MappingType(p.MappingType),
				MappingEntityExpression:   p.MappingEntityExpression,
				MappingSystemVariableName: p.MappingSystemVariableName,
				Required:                  p.Required == "Y",
			},
			InputParameterValue: def.InputParameterValue,
		})
	}

	return out
}
