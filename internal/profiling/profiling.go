// Package profiling optionally exposes pprof over HTTP under Extreme mode,
// for diagnosing a slow or stuck provider pool during development. Grounded
// on cmd/rslight-importer/main.go's Prof.PprofWeb/StartMemProfile usage of
// github.com/go-while/go-cpu-mem-profiler.
package profiling

import (
	"time"

	prof "github.com/go-while/go-cpu-mem-profiler"
)

// Start launches the pprof web exporter on addr and begins periodic memory
// profiling, returning the Profiler so the caller can stop it at exit.
// Only called when Extreme mode is on; the prober's hot path never imports
// net/http/pprof directly otherwise.
func Start(addr string) *prof.Profiler {
	p := prof.NewProf()
	go p.PprofWeb(addr)
	p.StartMemProfile(5*time.Minute, 30*time.Second)
	return p
}
