// Package decision maps a release's miss-ratio, age and dupe policy to one
// committed action (spec.md §4.6). Grounded on the teacher's processor
// package for the overall "inspect, then commit one outcome" shape
// (internal/processor/processor.go), since the original repo has no direct
// analogue to a post-probe decision table.
package decision

import (
	"sort"
	"time"

	"github.com/kloaknet/completion-prober/internal/models"
)

// Input bundles everything the decision table needs for one release.
type Input struct {
	MissRatio    float64
	Threshold    float64
	MaxFailure   float64
	Age          time.Duration
	AgeLimit     time.Duration
	ForceFailure bool
	DupeKey      string
	CheckDupes   models.DupeCheckMode
}

// Decide applies the decision table in spec.md §4.6.
func Decide(in Input) models.Action {
	underThreshold := in.MissRatio < in.Threshold && (in.MaxFailure == 0 || in.MissRatio < in.MaxFailure)
	if underThreshold || in.MissRatio == 0 {
		return models.ActionResume
	}

	overThreshold := in.MissRatio >= in.Threshold || (in.MaxFailure > 0 && in.MissRatio >= in.MaxFailure)
	if overThreshold && in.Age >= in.AgeLimit {
		if in.ForceFailure {
			return models.ActionForceFailed
		}
		return models.ActionMarkBad
	}

	if in.CheckDupes != models.DupeCheckOff && in.DupeKey != "" {
		return models.ActionSwapDupe
	}
	return models.ActionKeepPaused
}

// SelectForceFailureSurvivors picks the smallest par2 and the smallest
// non-par file to keep, by full 64-bit size (spec.md §9's resolved open
// question on FileSizeLo/FileSizeHi). Every other file ID is returned for
// deletion. If no par2 file exists, only the smallest non-par survives.
func SelectForceFailureSurvivors(files []models.QueueFile, isPar func(models.QueueFile) bool) (survivors, toDelete []models.QueueFile) {
	var smallestPar, smallestNonPar *models.QueueFile
	for i := range files {
		f := &files[i]
		if isPar(*f) {
			if smallestPar == nil || f.Size() < smallestPar.Size() {
				smallestPar = f
			}
		} else {
			if smallestNonPar == nil || f.Size() < smallestNonPar.Size() {
				smallestNonPar = f
			}
		}
	}

	keep := make(map[int64]bool)
	if smallestPar != nil {
		survivors = append(survivors, *smallestPar)
		keep[smallestPar.ID] = true
	}
	if smallestNonPar != nil {
		survivors = append(survivors, *smallestNonPar)
		keep[smallestNonPar.ID] = true
	}
	for _, f := range files {
		if !keep[f.ID] {
			toDelete = append(toDelete, f)
		}
	}
	return survivors, toDelete
}

// DupeCandidates filters and orders history entries eligible for dupe
// resolution: same dupe key, status DELETED/DUPE, produced by this
// extension, and (under SameScore) DupeScore >= current. Sorted by
// MaxPostTime ascending then DupeScore descending.
func DupeCandidates(history []models.HistoryEntry, dupeKey string, currentScore int, mode models.DupeCheckMode) []models.HistoryEntry {
	var out []models.HistoryEntry
	for _, h := range history {
		if h.DupeKey != dupeKey || !h.ScriptOwned {
			continue
		}
		if h.Status != "DELETED" && h.Status != "DUPE" {
			continue
		}
		if mode == models.DupeCheckSameScore && h.DupeScore < currentScore {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MaxPostTime.Equal(out[j].MaxPostTime) {
			return out[i].MaxPostTime.Before(out[j].MaxPostTime)
		}
		return out[i].DupeScore > out[j].DupeScore
	})
	return out
}
