package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	ErrorCodeSuccessful = "0"
	ErrorCodeFailed     = "1"
)

// Output is one typed result of a plugin call. Payload holds the output
// object exactly as the plugin returned it.
type Output struct {
	ErrorCode    string
	ErrorMessage string
	Payload      json.RawMessage
}

// Succeeded reports whether the output carries the success code.
func (o Output) Succeeded() bool {
	return o.ErrorCode == ErrorCodeSuccessful
}

// ResultData is the normalized response envelope of a plugin call.
type ResultData struct {
	ResultCode    string
	ResultMessage string
	Outputs       []Output
}

// OutputPolicy selects the primary output of a result.
type OutputPolicy func(outputs []Output) (Output, bool)

// FirstOutput treats the first output as the primary result. Remote
// operations are assumed to produce a single meaningful output.
func FirstOutput(outputs []Output) (Output, bool) {
	if len(outputs) == 0 {
		return Output{}, false
	}
	return outputs[0], true
}

type errorPayload struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// ErrorOutput builds a failure output whose payload is error-shaped.
func ErrorOutput(message string) Output {
	payload, err := json.Marshal(errorPayload{ErrorCode: ErrorCodeFailed, ErrorMessage: message})
	if err != nil {
		payload = []byte(`{"errorCode":"1"}`)
	}
	return Output{
		ErrorCode:    ErrorCodeFailed,
		ErrorMessage: message,
		Payload:      payload,
	}
}

// ErrorResult wraps a single failure output.
func ErrorResult(message string) ResultData {
	return ResultData{
		ResultCode:    ErrorCodeFailed,
		ResultMessage: message,
		Outputs:       []Output{ErrorOutput(message)},
	}
}

// StringValue renders a raw parameter value in string form. Whole numbers
// are rendered without a fraction or exponent so they stay coercible to
// integers; objects and arrays render as JSON; nil renders empty.
func StringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return StringValue(float64(val))
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprint(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
