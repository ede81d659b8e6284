// Package config assembles an immutable Config from the host's environment
// variables. Nothing downstream reads os.Environ directly; every
// component constructor takes a *Config instead, replacing the source
// script's module-level globals (spec.md §9).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kloaknet/completion-prober/internal/models"
)

// Timing constants carried from the original script; low but sufficient
// for a connection/liveness check rather than a full article transfer.
const (
	DefaultNNTPTimeout          = 2 * time.Second
	DefaultSocketCreateInterval = 0 * time.Millisecond
	DefaultSocketLoopInterval   = 200 * time.Millisecond
	SlowSessionStallAfter       = 5  // consecutive empty reads before the 2s stall
	SlowSessionSyntheticAfter   = 6  // consecutive empty reads before a synthetic 999
	SlowSessionFailAfter        = 20 // synthetic 999s before the provider pool is marked loop_failed
	HostIdleWindow              = 5 * time.Second
)

// Options mirrors every NZBPO_* script option.
type Options struct {
	AgeLimit            time.Duration
	AgeSortLimit        time.Duration
	CheckDupes          models.DupeCheckMode
	ForceFailure        bool
	Categories          []string
	Servers             []string
	FillServers         []string
	MaxFailure          float64
	Verbose             bool
	Extreme             bool
	IgnoreQueuePriority bool
	CheckLimitPercent   int
	MaxArticles         int
	MinArticles         int
	FullCheckNoPars     bool
}

// HostConn holds how to reach the host's RPC control surface.
type HostConn struct {
	IP       string
	Port     string
	Username string
	Password string
}

// Config is the fully-resolved, immutable configuration for one invocation.
type Config struct {
	Host      HostConn
	Options   Options
	Providers []models.Provider
	TempDir   string
	NZBDir    string
}

// Load reads every variable this extension understands from env and
// returns an immutable Config. lookup is typically os.LookupEnv, passed as
// a func so tests can inject a fake environment without mutating the
// process's.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return def
	}
	need := func(key string) (string, error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return "", fmt.Errorf("missing required environment variable %s", key)
		}
		return v, nil
	}

	ip, err := need("NZBOP_CONTROLIP")
	if err != nil {
		return nil, err
	}
	if ip == "0.0.0.0" {
		ip = "127.0.0.1"
	}
	port, err := need("NZBOP_CONTROLPORT")
	if err != nil {
		return nil, err
	}
	user, err := need("NZBOP_CONTROLUSERNAME")
	if err != nil {
		return nil, err
	}
	pass, err := need("NZBOP_CONTROLPASSWORD")
	if err != nil {
		return nil, err
	}
	tempDir, err := need("NZBOP_TEMPDIR")
	if err != nil {
		return nil, err
	}

	ageLimitHours := atoiDefault(get("NZBPO_AgeLimit", "4"), 4)
	ageSortLimitHours := atoiDefault(get("NZBPO_AgeSortLimit", "48"), 48)
	if ageSortLimitHours < ageLimitHours {
		ageSortLimitHours = ageLimitHours
	}

	opts := Options{
		AgeLimit:            time.Duration(ageLimitHours) * time.Hour,
		AgeSortLimit:        time.Duration(ageSortLimitHours) * time.Hour,
		CheckDupes:          models.ParseDupeCheckMode(get("NZBPO_CheckDupes", "No")),
		ForceFailure:        get("NZBPO_ForceFailure", "No") == "Yes",
		Categories:          splitLowerTrim(get("NZBPO_Categories", "")),
		Servers:             splitLowerTrim(get("NZBPO_Servers", "")),
		FillServers:         splitLowerTrim(get("NZBPO_FillServers", "")),
		MaxFailure:          atofDefault(get("NZBPO_MaxFailure", "0"), 0),
		Verbose:             get("NZBPO_Verbose", "No") == "Yes",
		Extreme:             get("NZBPO_Extreme", "No") == "Yes",
		IgnoreQueuePriority: get("NZBPO_IgnoreQueuePriority", "No") == "Yes",
		CheckLimitPercent:   atoiDefault(get("NZBPO_CheckLimit", "10"), 10),
		MaxArticles:         atoiDefault(get("NZBPO_MaxArticles", "1000"), 1000),
		MinArticles:         atoiDefault(get("NZBPO_MinArticles", "50"), 50),
		FullCheckNoPars:     get("NZBPO_FullCheckNoPars", "Yes") == "Yes",
	}

	providers := loadProviders(lookup)
	for i := range providers {
		providers[i].IsFill = contains(opts.FillServers, providers[i].ID)
	}

	return &Config{
		Host: HostConn{
			IP:       ip,
			Port:     port,
			Username: user,
			Password: pass,
		},
		Options:   opts,
		Providers: providers,
		TempDir:   tempDir,
		NZBDir:    get("NZBOP_NZBDIR", ""),
	}, nil
}

// loadProviders reads the NZBOP_Server<i>.* block for every server index
// NZBGet exposes. There is no upper bound in the wire contract: indices are
// scanned until one is missing.
func loadProviders(lookup func(string) (string, bool)) []models.Provider {
	var providers []models.Provider
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("NZBOP_Server%d.", i)
		host, ok := lookup(prefix + "Host")
		if !ok {
			break
		}
		get := func(suffix, def string) string {
			if v, ok := lookup(prefix + suffix); ok {
				return v
			}
			return def
		}
		providers = append(providers, models.Provider{
			ID:            strconv.Itoa(i),
			Level:         atoiDefault(get("Level", "0"), 0),
			GroupID:       atoiDefault(get("Group", "0"), 0),
			Host:          host,
			Port:          atoiDefault(get("Port", "119"), 119),
			TLS:           get("Encryption", "no") == "yes",
			User:          get("Username", ""),
			Pass:          get("Password", ""),
			MaxConns:      atoiDefault(get("Connections", "1"), 1),
			RetentionDays: atoiDefault(get("Retention", "0"), 0),
			Active:        get("Active", "no") == "yes",
		})
	}
	return providers
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func splitLowerTrim(raw string) []string {
	parts := strings.Split(strings.ToLower(raw), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func atofDefault(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return v
}

// OSLookup adapts os.LookupEnv to the Load signature.
func OSLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// HostAddr returns "ip:port" for the host control surface.
func (c *Config) HostAddr() string {
	return net.JoinHostPort(c.Host.IP, c.Host.Port)
}
