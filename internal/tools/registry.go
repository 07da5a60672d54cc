package tools

import "sort"

// ParamType classifies how the validator treats a parameter.
type ParamType int

const (
	ParamInt ParamType = iota
	ParamEnum
	ParamCategory
)

// Param is one parameter in a tool schema. Int parameters carry clamp
// bounds; enum parameters carry their value set; category parameters are
// checked against the caller's access grants.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
	Min, Max int      // ParamInt
	Default  int      // ParamInt; used when the proposal omits the value
	Enum     []string // ParamEnum; first entry is the default
}

// Schema is the static descriptor of one tool.
type Schema struct {
	Name   string
	Params []Param
}

// Param returns the named parameter descriptor.
func (s Schema) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Limits carries the configurable numeric bounds. The clamp-vs-reject
// asymmetry is fixed policy; the thresholds are not.
type Limits struct {
	TopNMin           int
	TopNMax           int
	TopNDefault       int
	MaxReviewsMin     int
	MaxReviewsMax     int
	MaxReviewsDefault int
}

// DefaultLimits mirrors the bounds of the production corpus.
func DefaultLimits() Limits {
	return Limits{
		TopNMin:           1,
		TopNMax:           50,
		TopNDefault:       15,
		MaxReviewsMin:     5,
		MaxReviewsMax:     200,
		MaxReviewsDefault: 30,
	}
}

// Registry is the enumerable set of tools and their schemas, loaded once at
// process start and immutable afterwards.
type Registry struct {
	schemas map[string]Schema
	limits  Limits
}

// NewRegistry builds the registry from the given limits. Zero limits fall
// back to DefaultLimits.
func NewRegistry(limits Limits) *Registry {
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	schemas := map[string]Schema{
		ToolTopCategories: {
			Name: ToolTopCategories,
			Params: []Param{
				{Name: "top_n", Type: ParamInt, Min: limits.TopNMin, Max: limits.TopNMax, Default: limits.TopNDefault},
				{Name: "metric", Type: ParamEnum, Enum: []string{"review_count", "avg_rating", "nps"}},
			},
		},
		ToolRatingDistribution: {
			Name: ToolRatingDistribution,
			Params: []Param{
				{Name: "category", Type: ParamCategory, Required: true},
			},
		},
		ToolSentimentSummary: {
			Name: ToolSentimentSummary,
			Params: []Param{
				{Name: "category", Type: ParamCategory, Required: true},
				{Name: "max_reviews", Type: ParamInt, Min: limits.MaxReviewsMin, Max: limits.MaxReviewsMax, Default: limits.MaxReviewsDefault},
			},
		},
		ToolCompareCategories: {
			Name: ToolCompareCategories,
			Params: []Param{
				{Name: "category_a", Type: ParamCategory, Required: true},
				{Name: "category_b", Type: ParamCategory, Required: true},
			},
		},
		ToolGeneralQuery: {
			Name: ToolGeneralQuery,
			Params: []Param{
				{Name: "query_type", Type: ParamEnum, Enum: []string{"summary_stats", "count_categories", "list_categories", "category_info"}},
				{Name: "category", Type: ParamCategory},
			},
		},
	}

	return &Registry{schemas: schemas, limits: limits}
}

// Lookup returns the schema for a tool name.
func (r *Registry) Lookup(name string) (Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Limits returns the configured numeric bounds.
func (r *Registry) Limits() Limits {
	return r.limits
}
