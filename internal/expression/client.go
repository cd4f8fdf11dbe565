// Package expression evaluates data-model expressions through the platform's
// expression service.
package expression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/yyri/wecube-platform/internal/domain"
)

const fetchPath = "/data-model/expressions/fetch"

// ErrEvaluation is returned when the service answers but reports a failure.
var ErrEvaluation = errors.New("expression evaluation failed")

type fetchRequest struct {
	DataModelExpression string `json:"dataModelExpression"`
	RootDataID          string `json:"rootDataId"`
}

// Client posts expressions to the expression service and returns the
// values it resolves to.
type Client struct {
	http    *resty.Client
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FetchData evaluates the expression from the root entity. The response is
//
//	{"status": "OK", "message": "...", "data": [...]}
//
// and the data array is returned as decoded JSON values, with numbers kept
// as json.Number.
func (c *Client) FetchData(ctx context.Context, criteria domain.ExpressionCriteria) ([]any, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(fetchRequest{
			DataModelExpression: criteria.Expression,
			RootDataID:          criteria.RootEntityID,
		}).
		Post(c.baseURL + fetchPath)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", criteria.Expression, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %q: status %d", ErrEvaluation, criteria.Expression, resp.StatusCode())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %q: malformed response", ErrEvaluation, criteria.Expression)
	}
	root := gjson.ParseBytes(body)
	if status := root.Get("status"); status.Exists() && !strings.EqualFold(status.String(), "OK") {
		return nil, fmt.Errorf("%w: %q: %s", ErrEvaluation, criteria.Expression, root.Get("message").String())
	}

	data := root.Get("data")
	if !data.IsArray() {
		return nil, nil
	}
	var values []any
	for _, v := range data.Array() {
		// Value() would decode numbers as float64 and drop digits past 2^53.
		if v.Type == gjson.Number {
			values = append(values, json.Number(v.Raw))
			continue
		}
		values = append(values, v.Value())
	}
	return values, nil
}
