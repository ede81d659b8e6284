// Package providerfilter drops inactive, out-of-scope, age-gated, and
// duplicate-group providers before the prober runs (spec.md §4.2).
package providerfilter

import (
	"sort"
	"time"

	"github.com/kloaknet/completion-prober/internal/models"
)

// Filter applies the five filter rules in order and returns the
// surviving providers, sorted by (group_id, level) with at most one entry
// per nonzero group_id.
func Filter(providers []models.Provider, servers, fillServers []string, releaseAge time.Duration, ageLimit time.Duration) []models.Provider {
	allowList := nonEmpty(servers) || nonEmpty(fillServers)

	var kept []models.Provider
	ageDays := releaseAge.Hours() / 24.0

	for _, p := range providers {
		if !p.Active {
			continue
		}
		if allowList && !contains(servers, p.ID) && !contains(fillServers, p.ID) {
			continue
		}
		if contains(fillServers, p.ID) && releaseAge < ageLimit {
			continue
		}
		if p.RetentionDays > 0 && ageDays > float64(p.RetentionDays) {
			continue
		}
		kept = append(kept, p)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].GroupID != kept[j].GroupID {
			return kept[i].GroupID < kept[j].GroupID
		}
		return kept[i].Level < kept[j].Level
	})

	var result []models.Provider
	lastGroup := -1
	for _, p := range kept {
		if p.GroupID != 0 {
			if p.GroupID == lastGroup {
				continue
			}
			lastGroup = p.GroupID
		}
		result = append(result, p)
	}

	// Re-sort by level ascending for probing order: group dedup above is
	// order-independent, but C5 must run providers in level order.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Level < result[j].Level
	})

	return result
}

func nonEmpty(list []string) bool {
	for _, v := range list {
		if v != "" {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
