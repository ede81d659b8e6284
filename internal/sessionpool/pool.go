// Package sessionpool fans a single provider's sample articles out across
// a bounded set of concurrent NNTP sessions. Grounded on the teacher's
// connection Pool (internal/nntp/nntp-backend-pool.go), generalized from a
// checkout/return connection pool into a fixed worker-goroutine-per-session
// fan-out over a shared article cursor, matching spec.md §4.4 and the
// ordering guarantees of §5.
package sessionpool

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kloaknet/completion-prober/internal/config"
	"github.com/kloaknet/completion-prober/internal/diagnostics"
	"github.com/kloaknet/completion-prober/internal/models"
	"github.com/kloaknet/completion-prober/internal/nntpsession"
)

// Run dials up to min(provider.MaxConns, ceil(unconfirmed/2)) sessions and
// drives them round-robin over every still-unconfirmed article in sample,
// stamping confirmations with providerOrdinal (1-based). It returns the
// provider's probe result; sample is mutated in place.
func Run(ctx context.Context, provider models.Provider, sample *models.Sample, providerOrdinal int, sampleSize int, threshold, maxFailure float64, timeout time.Duration, hostIdleUntil time.Time, log *diagnostics.Logger) models.ProbeResult {
	pending := unconfirmedIndices(sample)
	if len(pending) == 0 {
		return models.ProbeResult{}
	}
	if sampleSize == 0 {
		sampleSize = len(pending)
	}

	if until := hostIdleUntil.Sub(time.Now()); until > 0 {
		log.Debug().Dur("wait", until).Msg("waiting for host to close its own news server connections")
		time.Sleep(until)
	}

	numSessions := provider.MaxConns
	if want := int(math.Ceil(float64(len(pending)) / 2.0)); want < numSessions {
		numSessions = want
	}
	if numSessions < 1 {
		numSessions = 1
	}

	sessions := make([]*nntpsession.Session, 0, numSessions)
	for i := 0; i < numSessions; i++ {
		s, err := nntpsession.Dial(provider, timeout)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider.ID).Int("session", i).Msg("failed to dial session")
			time.Sleep(config.DefaultSocketCreateInterval)
			continue
		}
		s.SetPoolSize(numSessions)
		sessions = append(sessions, s)
		time.Sleep(config.DefaultSocketCreateInterval)
	}
	if len(sessions) == 0 {
		log.Warn().Str("provider", provider.ID).Msg("all sessions failed to dial, reporting 100% miss")
		return models.ProbeResult{Sent: len(pending), Missing: len(pending)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cursor int64 = -1
	var missing int64
	var sent int64
	var synthetic int64
	var loopFailed atomic.Bool

	nextJob := func() (int, bool) {
		for {
			i := atomic.AddInt64(&cursor, 1)
			if int(i) >= len(pending) {
				return 0, false
			}
			idx := pending[i]
			if !sample.Unconfirmed(idx) {
				// already confirmed; skip without issuing a STAT.
				continue
			}
			return idx, true
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *nntpsession.Session) {
			defer wg.Done()
			defer s.Close()
			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}

				idx, ok := nextJob()
				if !ok {
					return
				}

				article := sample.Articles[idx]
				group := ""
				if len(article.Groups) > 0 {
					group = article.Groups[0]
				}

				outcome, err := s.Stat(group, article.MessageID)
				if err != nil {
					log.Debug().Err(err).Str("provider", provider.ID).Msg("session died")
					return
				}

				switch outcome {
				case nntpsession.ArticleFound:
					mu.Lock()
					sample.Confirm(idx, providerOrdinal)
					mu.Unlock()
				case nntpsession.ArticleSynthetic:
					atomic.AddInt64(&missing, 1)
					if n := atomic.AddInt64(&synthetic, 1); n >= config.SlowSessionFailAfter {
						loopFailed.Store(true)
						cancel()
					}
				case nntpsession.ArticleMissing:
					atomic.AddInt64(&missing, 1)
				}
				atomic.AddInt64(&sent, 1)

				ratio := ratioOf(atomic.LoadInt64(&missing), int64(sampleSize))
				if ratio >= threshold || (maxFailure > 0 && ratio >= maxFailure) {
					cancel()
					return
				}
			}
		}(s)
	}
	wg.Wait()

	return models.ProbeResult{
		Sent:       int(sent),
		Missing:    int(missing),
		LoopFailed: loopFailed.Load(),
	}
}

func unconfirmedIndices(sample *models.Sample) []int {
	var out []int
	for i := range sample.Articles {
		if sample.Unconfirmed(i) {
			out = append(out, i)
		}
	}
	return out
}

func ratioOf(missing, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(missing) / float64(total) * 100
}
