package plugin

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/yyri/wecube-platform/internal/domain"
)

// Normalize reads a plugin response envelope:
//
//	{"resultCode": "0", "resultMessage": "", "results": {"outputs": [{...}]}}
//
// Each output keeps its raw JSON object as payload. A body that is not an
// envelope yields no outputs.
func Normalize(body []byte) domain.ResultData {
	if !gjson.ValidBytes(body) {
		return domain.ResultData{}
	}

	root := gjson.ParseBytes(body)
	result := domain.ResultData{
		ResultCode:    root.Get("resultCode").String(),
		ResultMessage: root.Get("resultMessage").String(),
	}

	outputs := root.Get("results.outputs")
	if !outputs.IsArray() {
		return result
	}

	for _, out := range outputs.Array() {
		if !out.IsObject() {
			continue
		}
		result.Outputs = append(result.Outputs, domain.Output{
			ErrorCode:    out.Get("errorCode").String(),
			ErrorMessage: out.Get("errorMessage").String(),
			Payload:      json.RawMessage(out.Raw),
		})
	}
	return result
}
