// Package prober drives a release's sampled article set across an ordered
// list of providers, merging per-provider confirmations into one miss ratio
// for the decision engine (spec.md §4.5). Grounded on the teacher's
// multi-backend driving pattern in internal/nntp/nntp-backend-pool.go,
// generalized from "fetch this article from whichever backend has it" to
// "probe every provider in level order until the release clears its
// threshold".
package prober

import (
	"context"
	"time"

	"github.com/kloaknet/completion-prober/internal/config"
	"github.com/kloaknet/completion-prober/internal/diagnostics"
	"github.com/kloaknet/completion-prober/internal/models"
	"github.com/kloaknet/completion-prober/internal/probecache"
	"github.com/kloaknet/completion-prober/internal/sessionpool"
)

// ProviderRun is one provider's contribution to a probe, for the summary
// emitted through diagnostics and upserted into probecache.
type ProviderRun struct {
	Provider  models.Provider
	Result    models.ProbeResult
	MissRatio float64
	Elapsed   time.Duration
}

// Outcome is the full result of probing one release across its filtered
// provider list.
type Outcome struct {
	MissRatio float64
	Runs      []ProviderRun
	Sample    models.Sample
}

// Run drives providers in the order given (already filtered and sorted by
// internal/providerfilter) against sample, stopping as soon as a provider's
// miss-ratio drops below threshold or hits zero. If no provider clears the
// threshold, the last provider's miss-ratio is reported, matching spec.md
// §4.5's "no provider succeeds" fallback. hostIdleUntil, when non-zero, is
// passed through to the first session pool so it can wait out the
// remainder of the host's own connection-close window (see
// router.IsRelevantQueueEvent) before dialing.
func Run(ctx context.Context, providers []models.Provider, sample models.Sample, threshold, maxFailure float64, timeout time.Duration, hostIdleUntil time.Time, cache *probecache.Store, fingerprint string, log *diagnostics.Logger) Outcome {
	if len(providers) == 0 {
		log.Warn().Msg("no providers survived filtering, reporting 100% miss")
		return Outcome{MissRatio: 100, Sample: sample}
	}

	var runs []ProviderRun
	var lastRatio float64 = 100
	sampleSize := sample.Len()

	for i, p := range providers {
		start := time.Now()
		if countUnconfirmed(&sample) == 0 {
			break
		}

		result := sessionpool.Run(ctx, p, &sample, i+1, sampleSize, threshold, maxFailure, timeout, hostIdleUntil, log)
		elapsed := time.Since(start)

		ratio := missRatioThisProvider(result, sampleSize)
		lastRatio = ratio

		runs = append(runs, ProviderRun{Provider: p, Result: result, MissRatio: ratio, Elapsed: elapsed})
		log.Info().Str("provider", p.ID).Int("level", p.Level).Float64("miss_ratio", ratio).Dur("elapsed", elapsed).Msg("provider probe complete")

		if cache != nil {
			_ = cache.UpsertProbeRun(fingerprint, p.ID, result.Sent, result.Missing, ratio)
		}

		if ratio == 0 || ratio < threshold {
			break
		}
	}

	if cache != nil {
		_ = cache.UpsertSummary(fingerprint, lastRatio, len(runs))
	}

	return Outcome{MissRatio: lastRatio, Runs: runs, Sample: sample}
}

// missRatioThisProvider computes missing_this_provider/sample_size*100 per
// spec.md §4.5; articles already confirmed by an earlier provider are
// skipped by the session loop and so never add to Missing.
func missRatioThisProvider(result models.ProbeResult, sampleSize int) float64 {
	if sampleSize == 0 {
		return 0
	}
	return float64(result.Missing) / float64(sampleSize) * 100
}

func countUnconfirmed(sample *models.Sample) int {
	n := 0
	for i := range sample.Articles {
		if sample.Unconfirmed(i) {
			n++
		}
	}
	return n
}

// DefaultTimeout is the fallback session dial/read timeout when a config
// value is not available.
const DefaultTimeout = config.DefaultNNTPTimeout
