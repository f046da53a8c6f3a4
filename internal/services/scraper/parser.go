package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/permuto/internal/models"
)

// Column order of the portal's mapping results table. The portal renders a
// fixed layout; header text is ignored and cells are read positionally.
const (
	colSourceModule = iota
	colSourceName
	colPartnerModule
	colPartnerName
	colCreditUnits
	colSemester
	colStatus
	colApprovalYear
	mappingColumns
)

// ParseMappings extracts module mappings from the HTML of the portal's
// results table for one university. Rows with fewer cells than the fixed
// layout (header rows, separators, "no results" banners) are skipped, as
// are mappings that are not approved. When approvedYears is non-empty only
// mappings approved in one of those years are kept.
func ParseMappings(html, university, country string, approvedYears []string) ([]models.ModuleMapping, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mapping table HTML: %w", err)
	}

	var mappings []models.ModuleMapping
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < mappingColumns {
			return
		}

		texts := make([]string, cells.Length())
		cells.Each(func(i int, cell *goquery.Selection) {
			texts[i] = strings.TrimSpace(cell.Text())
		})

		if texts[colSourceModule] == "" || texts[colPartnerModule] == "" {
			return
		}
		if !strings.Contains(strings.ToLower(texts[colStatus]), "approved") {
			return
		}
		if !yearApproved(texts[colApprovalYear], approvedYears) {
			return
		}

		mappings = append(mappings, models.ModuleMapping{
			SourceModule:      strings.ToUpper(texts[colSourceModule]),
			SourceModuleName:  texts[colSourceName],
			PartnerModule:     texts[colPartnerModule],
			PartnerModuleName: texts[colPartnerName],
			CreditUnits:       texts[colCreditUnits],
			Semester:          texts[colSemester],
			Status:            texts[colStatus],
			ApprovalYear:      texts[colApprovalYear],
			University:        university,
			Country:           country,
		})
	})

	return mappings, nil
}

func yearApproved(year string, approvedYears []string) bool {
	if len(approvedYears) == 0 {
		return true
	}
	for _, y := range approvedYears {
		if strings.Contains(year, y) {
			return true
		}
	}
	return false
}
