// Package models defines the core data structures shared across the
// completion prober: release candidates, the sampled article set, provider
// configuration and per-provider probe results.
package models

import "time"

// ReleaseCandidate is a paused queue entry (or history DUPE entry) the
// prober may decide on.
type ReleaseCandidate struct {
	ID             int64     // opaque host queue/history ID
	FileName       string    // descriptor file path on disk
	PostedAt       time.Time // oldest-post timestamp, i.e. release age
	CriticalHealth int       // host-supplied health figure, 0..1000
	DupeKey        string    // empty if not added via a feed
	DupeScore      int
	Priority       float64
	FromHistory    bool // true when this candidate came from dupe resolution
}

// Age returns how long ago the release was posted.
func (r ReleaseCandidate) Age(now time.Time) time.Duration {
	return now.Sub(r.PostedAt)
}

// Threshold returns the release's miss-ratio threshold, rounded to one
// decimal: 100 - critical_health/10.
func (r ReleaseCandidate) Threshold() float64 {
	return round1(100 - float64(r.CriticalHealth)/10.0)
}

func round1(v float64) float64 {
	return float64(int(v*10+sign(v)*0.5)) / 10
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Unconfirmed is the FoundOnProvider value of an article no provider has
// confirmed yet. A confirmed article instead holds the 1-based ordinal of
// the provider that confirmed it, over the order the prober ran them.
const Unconfirmed = -1

// Article is one sampled segment from the release's non-par files.
type Article struct {
	Subject           string
	IsPar             bool
	Groups            []string // the containing <file>'s <groups> block; Groups[0] is used for GROUP
	MessageID         string
	FoundOnProvider int
}

// Sample is the ordered, restartable probe set produced by the NZB parser.
// It carries found-state across providers within one prober run.
type Sample struct {
	Articles []Article
	// TotalNonPar is the count of non-par articles in the release (R in
	// the sampling policy), before striding.
	TotalNonPar int
}

// Len returns the number of sampled articles.
func (s *Sample) Len() int { return len(s.Articles) }

// Unconfirmed reports whether article i has not yet been confirmed on any
// provider.
func (s *Sample) Unconfirmed(i int) bool {
	return s.Articles[i].FoundOnProvider == Unconfirmed
}

// Confirm marks article i as found on the k-th (1-based) probed provider,
// unless it was already confirmed by an earlier provider.
func (s *Sample) Confirm(i int, providerOrdinal int) {
	if s.Articles[i].FoundOnProvider == Unconfirmed {
		s.Articles[i].FoundOnProvider = providerOrdinal
	}
}

// Provider is one configured news-server backend.
type Provider struct {
	ID            string
	Level         int
	GroupID       int
	Host          string
	Port          int
	TLS           bool
	User          string
	Pass          string
	MaxConns      int
	RetentionDays int
	IsFill        bool
	Active        bool
}

// ProbeResult is the outcome of driving one provider's session pool over a
// sample.
type ProbeResult struct {
	Sent       int
	Missing    int
	LoopFailed bool
}

// MissRatio returns missing/sent*100, or 100 if nothing was sent.
func (p ProbeResult) MissRatio() float64 {
	if p.Sent == 0 {
		return 100
	}
	return float64(p.Missing) / float64(p.Sent) * 100
}

// Action is the single decision the engine commits per release.
type Action string

const (
	ActionResume      Action = "resume"
	ActionKeepPaused  Action = "keep-paused"
	ActionMarkBad     Action = "mark-bad"
	ActionForceFailed Action = "force-failure"
	ActionSwapDupe    Action = "swap-dupe"
)

// DupeCheckMode is the tri-state normalization of the NZBPO_CheckDupes
// option; resolves the case-sensitivity Open Question from spec.md §9.
type DupeCheckMode int

const (
	DupeCheckOff DupeCheckMode = iota
	DupeCheckAny
	DupeCheckSameScore
)

// ParseDupeCheckMode normalizes the raw script option value. Comparison is
// case-insensitive by design: the source's bug (case-sensitive "no" check
// against a case-insensitive "Yes"/"SameScore" enable path) is not
// replicated.
func ParseDupeCheckMode(raw string) DupeCheckMode {
	switch lowerASCII(raw) {
	case "samescore":
		return DupeCheckSameScore
	case "yes":
		return DupeCheckAny
	default:
		return DupeCheckOff
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// HistoryEntry is a host history row consulted during dupe resolution.
type HistoryEntry struct {
	NZBID          int64
	FileName       string
	Status         string
	DupeKey        string
	DupeScore      int
	MaxPostTime    time.Time
	CriticalHealth int
	ScriptOwned    bool // true if CnpNZBFileName parameter present
}

// QueueFile is one file belonging to a release, as reported by listfiles.
type QueueFile struct {
	ID         int64
	Filename   string
	FileSizeLo uint32
	FileSizeHi uint32
}

// Size returns the full 64-bit file size (spec.md §9 resolved open
// question: FileSizeLo alone is insufficient above 4 GiB).
func (f QueueFile) Size() uint64 {
	return uint64(f.FileSizeHi)<<32 | uint64(f.FileSizeLo)
}
