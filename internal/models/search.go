package models

// SearchRequest is a placement search: which home modules the student needs
// mapped, and the filters to apply over the scraped data.
type SearchRequest struct {
	// Modules are the home module codes the student wants credit for.
	Modules []string `json:"modules" validate:"required,min=1,dive,required"`
	// Country restricts results to one country when set.
	Country string `json:"country,omitempty"`
	// Semester selects which capacity column to rank on (1 or 2).
	Semester int `json:"semester" validate:"omitempty,oneof=1 2"`
	// MinMappable overrides the configured minimum number of requested
	// modules a university must map to appear in results. Zero keeps the
	// configured default.
	MinMappable int `json:"min_mappable,omitempty" validate:"omitempty,min=1"`
	// GPA filters out universities whose minimum GPA exceeds the student's,
	// when set.
	GPA float64 `json:"gpa,omitempty" validate:"omitempty,min=0,max=5"`
}

// SearchResponse is the ranked result list for one search request.
type SearchResponse struct {
	Status               string          `json:"status"`
	Results              []MatchedResult `json:"results"`
	Total                int             `json:"total"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
}
