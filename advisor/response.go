// Package advisor produces candidate trades: a built-in template advisor
// constructs specs from routed geometry hints, and external advisor JSON
// is parsed into the same tagged response. Every output is untrusted and
// passes validation before reaching the gateway.
package advisor

import (
	"encoding/json"
	"fmt"

	"github.com/tradewarden/tradewarden/core"
)

// ResponseKind discriminates the advisor response variant
type ResponseKind string

const (
	ResponseTrade   ResponseKind = "trade"
	ResponsePlan    ResponseKind = "plan"
	ResponseAbstain ResponseKind = "abstain"
)

// Response is the tagged advisor output: an immediate trade candidate, a
// conditional plan, or an abstention with its reason.
type Response struct {
	Kind   ResponseKind    `json:"kind"`
	Trade  *core.TradeSpec `json:"trade,omitempty"`
	Plan   *core.Plan      `json:"plan,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Abstain builds an abstention response
func Abstain(reason string) Response {
	return Response{Kind: ResponseAbstain, Reason: reason}
}

// TradeOf wraps a candidate spec
func TradeOf(spec core.TradeSpec) Response {
	return Response{Kind: ResponseTrade, Trade: &spec}
}

// PlanOf wraps a conditional plan
func PlanOf(plan core.Plan) Response {
	return Response{Kind: ResponsePlan, Plan: &plan}
}

// ParseResponse decodes external advisor JSON into the tagged response.
// The payload shape must match its kind; anything else is an error, never
// a silent abstention.
func ParseResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("advisor response: %w", err)
	}
	switch resp.Kind {
	case ResponseTrade:
		if resp.Trade == nil {
			return Response{}, fmt.Errorf("advisor response: kind %q without trade payload", resp.Kind)
		}
		if !resp.Trade.Side.Valid() {
			return Response{}, fmt.Errorf("advisor response: invalid side %q", resp.Trade.Side)
		}
	case ResponsePlan:
		if resp.Plan == nil {
			return Response{}, fmt.Errorf("advisor response: kind %q without plan payload", resp.Kind)
		}
		if len(resp.Plan.Conditions) == 0 {
			return Response{}, fmt.Errorf("advisor response: plan without conditions")
		}
	case ResponseAbstain:
	default:
		return Response{}, fmt.Errorf("advisor response: unknown kind %q", resp.Kind)
	}
	return resp, nil
}
