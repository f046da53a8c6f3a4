package models

// UniversityRecord is one row of the static capacity/eligibility dataset.
// Records are immutable once loaded; the dataset is replaced wholesale on
// explicit reload.
type UniversityRecord struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Code      string  `json:"code"`
	Sem1Spots int     `json:"sem1_spots"`
	Sem2Spots int     `json:"sem2_spots"`
	MinGPA    float64 `json:"min_gpa"`
	Remarks   string  `json:"remarks,omitempty"`
}

// SpotsForSemester returns the capacity for semester 1 or 2. Any other value
// returns the combined capacity.
func (r *UniversityRecord) SpotsForSemester(semester int) int {
	switch semester {
	case 1:
		return r.Sem1Spots
	case 2:
		return r.Sem2Spots
	default:
		return r.Sem1Spots + r.Sem2Spots
	}
}

// ModuleMapping is one approved (or pending) equivalence between a home
// module and a partner university module, scraped from the portal.
type ModuleMapping struct {
	SourceModule      string `json:"source_module"`
	SourceModuleName  string `json:"source_module_name,omitempty"`
	PartnerModule     string `json:"partner_module"`
	PartnerModuleName string `json:"partner_module_name,omitempty"`
	CreditUnits       string `json:"credit_units,omitempty"`
	Semester          string `json:"semester,omitempty"`
	Status            string `json:"status,omitempty"`
	ApprovalYear      string `json:"approval_year,omitempty"`
	University        string `json:"university"`
	Country           string `json:"country"`
}

// ScrapedDataset is the output of one orchestrator run: the discovery index
// plus the mappings collected per university.
type ScrapedDataset struct {
	// Countries maps country name to the universities discovered under it.
	Countries map[string][]string `json:"countries"`
	// Mappings maps university name to every mapping scraped for it.
	Mappings map[string][]ModuleMapping `json:"mappings"`
	// FailedTargets lists universities that could not be scraped.
	FailedTargets []string `json:"failed_targets,omitempty"`
}

// TotalMappings counts all mappings across universities.
func (d *ScrapedDataset) TotalMappings() int {
	total := 0
	for _, ms := range d.Mappings {
		total += len(ms)
	}
	return total
}

// MatchedResult is one ranked university produced by the match ranker.
// Computed fresh per search request, never persisted.
type MatchedResult struct {
	Rank              int                        `json:"rank"`
	Name              string                     `json:"name"`
	Country           string                     `json:"country"`
	Code              string                     `json:"code"`
	SemesterSpots     int                        `json:"semester_spots"`
	MinGPA            float64                    `json:"min_gpa"`
	Remarks           string                     `json:"remarks,omitempty"`
	MappableModules   map[string][]ModuleMapping `json:"mappable_modules"`
	MappableCount     int                        `json:"mappable_count"`
	UnmappableModules []string                   `json:"unmappable_modules"`
	CoverageScore     float64                    `json:"coverage_score"`
}
