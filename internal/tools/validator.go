package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
)

// Authorizer is the access check the validator consults per referenced
// category.
type Authorizer interface {
	Authorize(user storage.User, category string) (bool, error)
}

// Validator checks interpreter proposals against the tool registry and the
// caller's access grants. A Call it returns is safe to execute as-is: the
// executor performs no further bounds or authorization logic.
type Validator struct {
	registry *Registry
	access   Authorizer
}

func NewValidator(registry *Registry, access Authorizer) *Validator {
	return &Validator{registry: registry, access: access}
}

// Validate turns a raw proposal into a validated Call or a Rejection. The
// checks run in a fixed order: tool existence, schema bounds (out-of-range
// numerics are clamped, not refused), category authorization, and
// tool-specific consistency. Authorization failures keep the offending
// category for the trace but never expose it to the caller.
func (v *Validator) Validate(decision router.Decision, user storage.User) (Call, *Rejection) {
	if decision.Unavailable {
		return Call{}, &Rejection{Reason: ReasonInterpreterUnavailable}
	}

	schema, ok := v.registry.Lookup(decision.Tool)
	if !ok {
		return Call{}, &Rejection{Reason: ReasonUnsupportedTool, Detail: decision.Tool}
	}

	call := Call{Tool: schema.Name}
	for _, p := range schema.Params {
		if rej := v.applyParam(&call, p, decision.Args); rej != nil {
			return Call{}, rej
		}
	}

	// general_query only references a category for the category_info variant.
	if call.Tool == ToolGeneralQuery {
		if call.Args.QueryType == QueryCategoryInfo && call.Args.Category == "" {
			call.Args.QueryType = QuerySummaryStats
			call.Coercions = append(call.Coercions, "query_type: category_info without category -> summary_stats")
		}
		if call.Args.QueryType != QueryCategoryInfo {
			call.Args.Category = ""
		}
	}

	for _, category := range referencedCategories(call) {
		allowed, err := v.access.Authorize(user, category)
		if err != nil {
			return Call{}, &Rejection{Reason: ReasonAccessDenied, Detail: fmt.Sprintf("authorization check failed: %v", err), Category: category}
		}
		if !allowed {
			return Call{}, &Rejection{Reason: ReasonAccessDenied, Category: category}
		}
	}

	if call.Tool == ToolCompareCategories && call.Args.CategoryA == call.Args.CategoryB {
		return Call{}, &Rejection{
			Reason:   ReasonInvalidArguments,
			Detail:   "compare_categories requires two distinct categories",
			Category: call.Args.CategoryA,
		}
	}

	return call, nil
}

// applyParam normalizes one proposal argument into the call, clamping and
// defaulting per the schema.
func (v *Validator) applyParam(call *Call, p Param, args map[string]any) *Rejection {
	raw, present := args[p.Name]

	switch p.Type {
	case ParamInt:
		value := p.Default
		if present {
			parsed, ok := asInt(raw)
			if !ok {
				call.Coercions = append(call.Coercions, fmt.Sprintf("%s: non-numeric %v -> %d", p.Name, raw, p.Default))
			} else if parsed < p.Min {
				value = p.Min
				call.Coercions = append(call.Coercions, fmt.Sprintf("%s: %d -> %d", p.Name, parsed, p.Min))
			} else if parsed > p.Max {
				value = p.Max
				call.Coercions = append(call.Coercions, fmt.Sprintf("%s: %d -> %d", p.Name, parsed, p.Max))
			} else {
				value = parsed
			}
		}
		setIntArg(&call.Args, p.Name, value)

	case ParamEnum:
		value := p.Enum[0]
		if present {
			s, _ := raw.(string)
			s = strings.TrimSpace(s)
			if contains(p.Enum, s) {
				value = s
			} else if s != "" {
				call.Coercions = append(call.Coercions, fmt.Sprintf("%s: %q -> %q", p.Name, s, value))
			}
		}
		setStringArg(&call.Args, p.Name, value)

	case ParamCategory:
		s, _ := raw.(string)
		s = strings.TrimSpace(s)
		if s == "" && p.Required {
			return &Rejection{Reason: ReasonInvalidArguments, Detail: fmt.Sprintf("missing required parameter %q", p.Name)}
		}
		setStringArg(&call.Args, p.Name, s)
	}

	return nil
}

// referencedCategories lists every category the call's semantics touch.
func referencedCategories(call Call) []string {
	var out []string
	for _, c := range []string{call.Args.Category, call.Args.CategoryA, call.Args.CategoryB} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

func setIntArg(args *Args, name string, value int) {
	switch name {
	case "top_n":
		args.TopN = value
	case "max_reviews":
		args.MaxReviews = value
	}
}

func setStringArg(args *Args, name, value string) {
	switch name {
	case "metric":
		args.Metric = value
	case "category":
		args.Category = value
	case "category_a":
		args.CategoryA = value
	case "category_b":
		args.CategoryB = value
	case "query_type":
		args.QueryType = value
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
