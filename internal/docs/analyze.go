// Package docs introspects the endpoint registry to report coverage and
// render API documentation.
package docs

import (
	"fmt"
	"net/http"
	"sort"

	"apiforge/internal/registry"
)

// Source is anything that can enumerate registered endpoints
type Source interface {
	All() []registry.Descriptor
}

// validationThreshold is the share of write endpoints below which missing
// validation is flagged
const validationThreshold = 0.5

// Report summarizes the registered surface
type Report struct {
	TotalEndpoints    int            `json:"totalEndpoints"`
	ByMethod          map[string]int `json:"byMethod"`
	ByVersion         map[string]int `json:"byVersion"`
	SecuredCount      int            `json:"securedCount"`
	PublicCount       int            `json:"publicCount"`
	ValidatedCount    int            `json:"validatedCount"`
	UndocumentedCount int            `json:"undocumentedCount"`
	Recommendations   []string       `json:"recommendations"`
}

// Analyze computes a Report for the current state of src
func Analyze(src Source) Report {
	r := Report{
		ByMethod:        map[string]int{},
		ByVersion:       map[string]int{},
		Recommendations: []string{},
	}

	var (
		writes, validatedWrites int
		unversioned             int
		publicWrites            []string
		undocumented            []string
	)
	for _, d := range src.All() {
		k := d.Key()
		r.TotalEndpoints++
		r.ByMethod[k.Method]++

		if k.Version == "" {
			unversioned++
			r.ByVersion["unversioned"]++
		} else {
			r.ByVersion[k.Version]++
		}

		if d.AuthRequired {
			r.SecuredCount++
		} else {
			r.PublicCount++
		}
		if d.Validated() {
			r.ValidatedCount++
		}
		if !d.Documented() {
			r.UndocumentedCount++
			undocumented = append(undocumented, k.String())
		}

		if isWrite(k.Method) {
			writes++
			if d.Validated() {
				validatedWrites++
			}
			if !d.AuthRequired {
				publicWrites = append(publicWrites, k.String())
			}
		}
	}

	if r.TotalEndpoints == 0 {
		r.Recommendations = append(r.Recommendations, "No endpoints are registered")
		return r
	}

	if writes > 0 && float64(validatedWrites)/float64(writes) < validationThreshold {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"Only %d of %d write endpoints validate their input; add validation schemas", validatedWrites, writes))
	}
	if unversioned > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d endpoints are unversioned; register them under an API version", unversioned))
	}
	if r.ByMethod[http.MethodGet] == 0 {
		r.Recommendations = append(r.Recommendations, "No GET endpoints are registered; consider adding read operations")
	}
	if len(publicWrites) > 0 {
		sort.Strings(publicWrites)
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d write endpoints do not require authentication: %v", len(publicWrites), publicWrites))
	}
	if len(undocumented) > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d endpoints have no summary or description", len(undocumented)))
	}
	return r
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
