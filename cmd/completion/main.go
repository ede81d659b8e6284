// Command completion is the nzbget-family extension binary: invoked as a
// subprocess per decision cycle, it reads NZB*/NZBOP_*/NZBPO_*/NZBSP_*/
// NZBNA_*/NZBNP_*/NZBCP_* environment variables, probes configured
// providers for a paused release's article availability, and commits a
// decision back to the host over RPC. Grounded on cmd/nntp-fetcher/main.go
// for overall flag-parsing shape; the host-subprocess contract itself has
// no teacher analogue and follows the original script's main() dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kloaknet/completion-prober/internal/config"
	"github.com/kloaknet/completion-prober/internal/decision"
	"github.com/kloaknet/completion-prober/internal/diagnostics"
	"github.com/kloaknet/completion-prober/internal/hostlog"
	"github.com/kloaknet/completion-prober/internal/hostrpc"
	"github.com/kloaknet/completion-prober/internal/lockfile"
	"github.com/kloaknet/completion-prober/internal/models"
	"github.com/kloaknet/completion-prober/internal/nzb"
	"github.com/kloaknet/completion-prober/internal/probecache"
	"github.com/kloaknet/completion-prober/internal/prober"
	"github.com/kloaknet/completion-prober/internal/profiling"
	"github.com/kloaknet/completion-prober/internal/providerfilter"
	"github.com/kloaknet/completion-prober/internal/router"
)

// dupeParameterName is the host queue parameter the scan hook writes and
// later invocations read to correlate a release across modes.
const dupeParameterName = "CnpNZBFileName"

func main() {
	var (
		dryRun    = flag.Bool("dry-run", false, "probe a local NZB file without talking to a host")
		nzbPath   = flag.String("nzb", "", "path to an NZB file (dry-run only)")
		showHist  = flag.Bool("history", false, "print recent probe history from the local cache and exit")
		cacheFile = flag.String("cache", "", "path to the probecache sqlite database (default: <NZBOP_TEMPDIR>/completion/probecache.db; with --dry-run: <os temp dir>/completion-probecache.db)")
		logFile   = flag.String("log-file", "", "additionally write diagnostics to this file")
	)
	flag.Parse()

	if *dryRun {
		runDryRun(*nzbPath, *showHist, *cacheFile, *logFile)
		return
	}

	if err := runHostInvocation(*cacheFile, *logFile); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func runDryRun(nzbPath string, showHist bool, cacheFile, logFile string) {
	log := diagnostics.New(true, false, logFile)

	if cacheFile == "" {
		cacheFile = filepath.Join(os.TempDir(), "completion-probecache.db")
	}
	cache, err := probecache.Open(cacheFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] opening probecache:", err)
		os.Exit(1)
	}
	defer cache.Close()

	if showHist {
		entries, err := cache.RecentHistory(20)
		if err != nil {
			fmt.Fprintln(os.Stderr, "[ERROR]", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s  miss=%.1f%%  providers=%d  at=%s\n", e.Fingerprint, e.MissRatio, e.ProvidersRun, e.RanAt.Format(time.RFC3339))
		}
		return
	}

	if nzbPath == "" {
		fmt.Fprintln(os.Stderr, "[ERROR] --dry-run requires --nzb <path> (or --history)")
		os.Exit(1)
	}

	result := nzb.ParseFile(nzbPath, 10, 1000, 50, true)
	if result.Status != nzb.Probes {
		fmt.Println(result.String())
		return
	}
	fmt.Println(result.String())

	cfg, err := config.Load(config.OSLookup)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] loading provider config:", err)
		os.Exit(1)
	}

	providers := providerfilter.Filter(cfg.Providers, cfg.Options.Servers, cfg.Options.FillServers, 0, cfg.Options.AgeLimit)
	outcome := prober.Run(context.Background(), providers, result.Sample, 10, cfg.Options.MaxFailure, config.DefaultNNTPTimeout, time.Time{}, cache, result.Fingerprint, log)

	fmt.Printf("final miss-ratio: %.1f%%\n", outcome.MissRatio)
	for _, r := range outcome.Runs {
		fmt.Printf("  provider %s (level %d): sent=%d missing=%d ratio=%.1f%% elapsed=%s\n",
			r.Provider.ID, r.Provider.Level, r.Result.Sent, r.Result.Missing, r.MissRatio, r.Elapsed)
	}
}

func runHostInvocation(cacheFile, logFile string) error {
	cfg, err := config.Load(config.OSLookup)
	if err != nil {
		return err
	}
	out := hostlog.Writer{Verbose: cfg.Options.Verbose, Extreme: cfg.Options.Extreme}
	log := diagnostics.New(cfg.Options.Verbose, cfg.Options.Extreme, logFile)

	if cfg.Options.Extreme {
		profiling.Start("127.0.0.1:51111")
	}

	invocationStart := time.Now()
	env := snapshotEnv()
	decisionRouting := router.Dispatch(env)

	var hostIdleUntil time.Time
	if decisionRouting.QueueEvent == router.EventNZBDownloaded {
		hostIdleUntil = invocationStart.Add(config.HostIdleWindow)
	}

	rpc := hostrpc.New(cfg.HostAddr(), cfg.Host.Username, cfg.Host.Password)

	if cacheFile == "" {
		cacheFile = filepath.Join(cfg.TempDir, "completion", "probecache.db")
	}
	cache, err := probecache.Open(cacheFile)
	if err != nil {
		out.Warning("could not open probe cache: %v", err)
	} else {
		defer cache.Close()
	}

	for _, mode := range decisionRouting.Modes {
		switch mode {
		case router.ModeScan:
			runScan(cfg, &out, env)
		case router.ModeScheduler, router.ModeQueueEvent, router.ModeManualButton:
			if mode == router.ModeQueueEvent && !router.IsRelevantQueueEvent(decisionRouting.QueueEvent) {
				continue
			}
			if err := runSelectionLoop(cfg, &out, log, rpc, cache, hostIdleUntil); err != nil {
				return err
			}
			if mode == router.ModeManualButton {
				os.Exit(93)
			}
		}
	}
	return nil
}

// runScan implements the pre-queue scan hook: pause a newly arriving
// release whose category matches, and inject the canonical queued-file
// name parameter later invocations use to correlate this release.
func runScan(cfg *config.Config, out *hostlog.Writer, env map[string]string) {
	category := env["NZBNP_CATEGORY"]
	if !categoryMatches(category, cfg.Options.Categories) {
		return
	}

	filename := env["NZBNP_FILENAME"]
	queuedName := filename + ".queued"
	out.V("Expected queued file name: %q", queuedName)
	out.NZBDirective(dupeParameterName, queuedName)
	out.NZBDirective("PAUSED", "1")
}

func categoryMatches(category string, allowed []string) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "") {
		return true
	}
	category = lowerASCII(category)
	for _, c := range allowed {
		if c == category {
			return true
		}
	}
	return false
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

// runSelectionLoop acquires the lock, lists paused candidates, orders them
// by priority, and probes+decides each one in turn.
func runSelectionLoop(cfg *config.Config, out *hostlog.Writer, log *diagnostics.Logger, rpc *hostrpc.Client, cache *probecache.Store, hostIdleUntil time.Time) error {
	paused, serverTime, upTimeSec, err := rpc.Status()
	if err != nil {
		return fmt.Errorf("host status: %w", err)
	}
	_ = paused

	lock, status, err := lockfile.Acquire(cfg.TempDir, serverTime, upTimeSec)
	if err != nil {
		return fmt.Errorf("lock file: %w", err)
	}
	switch status {
	case lockfile.AlreadyRunning:
		out.V("another instance is already running, exiting")
		return nil
	case lockfile.RecoveredFromCrash:
		out.Error("a previous run seems to have crashed; resuming host downloads")
		if err := rpc.ResumeDownload(); err != nil {
			out.Warning("could not resume host downloads after crash recovery: %v", err)
		}
	}
	defer lock.Release()

	groups, err := rpc.ListGroups()
	if err != nil {
		return fmt.Errorf("listgroups: %w", err)
	}

	candidates := selectCandidates(groups, cfg.Options.IgnoreQueuePriority, cfg.Options.AgeSortLimit)
	for _, c := range candidates {
		if err := processCandidate(cfg, out, log, rpc, cache, c, hostIdleUntil); err != nil {
			out.Warning("candidate %d: %v", c.ID, err)
		}
	}
	return nil
}

func processCandidate(cfg *config.Config, out *hostlog.Writer, log *diagnostics.Logger, rpc *hostrpc.Client, cache *probecache.Store, candidate models.ReleaseCandidate, hostIdleUntil time.Time) error {
	result := nzb.ParseFile(candidate.FileName, cfg.Options.CheckLimitPercent, cfg.Options.MaxArticles, cfg.Options.MinArticles, cfg.Options.FullCheckNoPars)
	switch result.Status {
	case nzb.NoSuchFile, nzb.Invalid, nzb.NoRarArticles:
		out.Warning("descriptor error for %s: %s", candidate.FileName, result.String())
		return rpc.ResumeDownload()
	}

	age := candidate.Age(time.Now())
	providers := providerfilter.Filter(cfg.Providers, cfg.Options.Servers, cfg.Options.FillServers, age, cfg.Options.AgeLimit)
	outcome := prober.Run(context.Background(), providers, result.Sample, candidate.Threshold(), cfg.Options.MaxFailure, config.DefaultNNTPTimeout, hostIdleUntil, cache, result.Fingerprint, log)

	act := decision.Decide(decision.Input{
		MissRatio:    outcome.MissRatio,
		Threshold:    candidate.Threshold(),
		MaxFailure:   cfg.Options.MaxFailure,
		Age:          age,
		AgeLimit:     cfg.Options.AgeLimit,
		ForceFailure: cfg.Options.ForceFailure,
		DupeKey:      candidate.DupeKey,
		CheckDupes:   cfg.Options.CheckDupes,
	})

	return commitAction(cfg, out, log, rpc, cache, candidate, act)
}

func commitAction(cfg *config.Config, out *hostlog.Writer, log *diagnostics.Logger, rpc *hostrpc.Client, cache *probecache.Store, candidate models.ReleaseCandidate, act models.Action) error {
	switch act {
	case models.ActionResume:
		return rpc.EditQueue("GroupResume", 0, "", []int64{candidate.ID})
	case models.ActionKeepPaused:
		out.V("keeping %d paused", candidate.ID)
		return nil
	case models.ActionMarkBad:
		return rpc.EditQueue("HistoryMarkBad", 0, "", []int64{candidate.ID})
	case models.ActionForceFailed:
		files, err := rpc.ListFiles(candidate.ID)
		if err != nil {
			return fmt.Errorf("listfiles: %w", err)
		}
		queueFiles := make([]models.QueueFile, len(files))
		for i, f := range files {
			queueFiles[i] = models.QueueFile{ID: f.ID, Filename: f.Filename, FileSizeLo: f.FileSizeLo, FileSizeHi: f.FileSizeHi}
		}
		_, toDelete := decision.SelectForceFailureSurvivors(queueFiles, isPar2Name)
		for _, f := range toDelete {
			if err := rpc.EditQueue("FileDelete", 0, "", []int64{f.ID}); err != nil {
				return fmt.Errorf("delete file %d: %w", f.ID, err)
			}
		}
		return rpc.EditQueue("GroupResume", 0, "", []int64{candidate.ID})
	case models.ActionSwapDupe:
		return resolveDupe(cfg, out, log, rpc, cache, candidate)
	}
	return nil
}

// resolveDupe implements spec.md's dupe resolution procedure: list the
// host's history, filter/order it to the candidates this extension itself
// produced under the release's dupe key, re-probe each in turn, and on the
// first one that comes back complete swap it in for the currently paused
// candidate. RPC edit order matters: the dupe is redownloaded and resumed
// before the current entry is dupe-deleted, so the host never auto-replaces
// the redownloaded dupe with the entry being demoted.
func resolveDupe(cfg *config.Config, out *hostlog.Writer, log *diagnostics.Logger, rpc *hostrpc.Client, cache *probecache.Store, candidate models.ReleaseCandidate) error {
	history, err := rpc.History()
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	entries := make([]models.HistoryEntry, 0, len(history))
	for _, h := range history {
		entries = append(entries, models.HistoryEntry{
			NZBID:          h.NZBID,
			FileName:       h.Name,
			Status:         h.Status,
			DupeKey:        h.DupeKey,
			DupeScore:      h.DupeScore,
			MaxPostTime:    time.Unix(h.MaxPostTime, 0),
			CriticalHealth: h.CriticalHealth,
			ScriptOwned:    hasParam(h.Parameters, dupeParameterName),
		})
	}

	for _, dupe := range decision.DupeCandidates(entries, candidate.DupeKey, candidate.DupeScore, cfg.Options.CheckDupes) {
		dupeCandidate := models.ReleaseCandidate{
			ID:             dupe.NZBID,
			FileName:       dupe.FileName,
			PostedAt:       dupe.MaxPostTime,
			CriticalHealth: dupe.CriticalHealth,
			DupeKey:        dupe.DupeKey,
			DupeScore:      dupe.DupeScore,
			FromHistory:    true,
		}

		result := nzb.ParseFile(dupeCandidate.FileName, cfg.Options.CheckLimitPercent, cfg.Options.MaxArticles, cfg.Options.MinArticles, cfg.Options.FullCheckNoPars)
		if result.Status != nzb.Probes {
			out.V("dupe candidate %d descriptor not probeable: %s", dupeCandidate.ID, result.String())
			continue
		}

		age := dupeCandidate.Age(time.Now())
		providers := providerfilter.Filter(cfg.Providers, cfg.Options.Servers, cfg.Options.FillServers, age, cfg.Options.AgeLimit)
		outcome := prober.Run(context.Background(), providers, result.Sample, dupeCandidate.Threshold(), cfg.Options.MaxFailure, config.DefaultNNTPTimeout, time.Time{}, cache, result.Fingerprint, log)
		if outcome.MissRatio != 0 {
			continue
		}

		out.V("dupe candidate %d is complete, swapping in for %d", dupeCandidate.ID, candidate.ID)
		if err := rpc.EditQueue("HistoryRedownload", 0, "", []int64{dupeCandidate.ID}); err != nil {
			return fmt.Errorf("history redownload %d: %w", dupeCandidate.ID, err)
		}
		if err := rpc.EditQueue("GroupResume", 0, "", []int64{dupeCandidate.ID}); err != nil {
			return fmt.Errorf("resume dupe %d: %w", dupeCandidate.ID, err)
		}
		if err := rpc.EditQueue("GroupPauseExtraPars", 0, "", []int64{dupeCandidate.ID}); err != nil {
			return fmt.Errorf("pause extra pars on dupe %d: %w", dupeCandidate.ID, err)
		}
		return rpc.EditQueue("GroupDupeDelete", 0, "", []int64{candidate.ID})
	}

	out.V("no complete dupe candidate found for %d, keeping paused", candidate.ID)
	return nil
}

func hasParam(params []hostrpc.Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func isPar2Name(f models.QueueFile) bool {
	n := lowerASCII(f.Filename)
	return len(n) >= 5 && n[len(n)-5:] == ".par2"
}

// selectCandidates builds the ordered set of paused releases to probe:
// sort by post-time ascending, move releases older than AgeSortLimit to the
// tail, then sort by priority descending (stable). When ignorePriority is
// set, the paused releases are returned in listgroups order, unsorted.
// Candidates are not compared against the priority of releases that are
// downloading or queued; every paused release is returned.
func selectCandidates(groups []hostrpc.GroupDTO, ignorePriority bool, ageSortLimit time.Duration) []models.ReleaseCandidate {
	var out []models.ReleaseCandidate
	for _, g := range groups {
		if g.Status != "PAUSED" {
			continue
		}
		out = append(out, models.ReleaseCandidate{
			ID:             int64(g.ID),
			FileName:       g.Name,
			PostedAt:       time.Unix(g.MinPostTime, 0),
			CriticalHealth: g.CriticalHealth,
			DupeKey:        g.DupeKey,
			DupeScore:      g.DupeScore,
			Priority:       float64(g.Priority),
		})
	}
	if ignorePriority {
		return out
	}

	now := time.Now()
	sort.SliceStable(out, func(i, j int) bool {
		iOld, jOld := now.Sub(out[i].PostedAt) >= ageSortLimit, now.Sub(out[j].PostedAt) >= ageSortLimit
		if iOld != jOld {
			return !iOld // non-stale first
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func snapshotEnv() map[string]string {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}
