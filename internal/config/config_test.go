package config

import (
	"testing"

	"github.com/kloaknet/completion-prober/internal/models"
)

func fakeLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"NZBOP_CONTROLIP":       "0.0.0.0",
		"NZBOP_CONTROLPORT":     "6789",
		"NZBOP_CONTROLUSERNAME": "nzbget",
		"NZBOP_CONTROLPASSWORD": "secret",
		"NZBOP_TEMPDIR":         "/tmp/nzbget",
	}
}

func TestLoadMissingRequiredVar(t *testing.T) {
	env := baseEnv()
	delete(env, "NZBOP_CONTROLPORT")
	if _, err := Load(fakeLookup(env)); err == nil {
		t.Fatal("expected an error for a missing required variable")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(fakeLookup(baseEnv()))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host.IP != "127.0.0.1" {
		t.Fatalf("expected 0.0.0.0 to be rewritten to 127.0.0.1, got %s", cfg.Host.IP)
	}
	if cfg.HostAddr() != "127.0.0.1:6789" {
		t.Fatalf("unexpected host addr: %s", cfg.HostAddr())
	}
	if cfg.Options.AgeLimit.Hours() != 4 {
		t.Fatalf("expected default AgeLimit of 4h, got %v", cfg.Options.AgeLimit)
	}
	if cfg.Options.AgeSortLimit.Hours() != 48 {
		t.Fatalf("expected default AgeSortLimit of 48h, got %v", cfg.Options.AgeSortLimit)
	}
	if cfg.Options.CheckLimitPercent != 10 || cfg.Options.MaxArticles != 1000 || cfg.Options.MinArticles != 50 {
		t.Fatalf("unexpected sampling defaults: %+v", cfg.Options)
	}
}

func TestLoadAgeSortLimitClampedUpToAgeLimit(t *testing.T) {
	env := baseEnv()
	env["NZBPO_AgeLimit"] = "72"
	env["NZBPO_AgeSortLimit"] = "10"
	cfg, err := Load(fakeLookup(env))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Options.AgeSortLimit.Hours() != 72 {
		t.Fatalf("expected AgeSortLimit to be clamped up to AgeLimit (72h), got %v", cfg.Options.AgeSortLimit)
	}
}

func TestLoadProvidersScansUntilGap(t *testing.T) {
	env := baseEnv()
	env["NZBOP_Server1.Host"] = "news1.example"
	env["NZBOP_Server1.Active"] = "yes"
	env["NZBOP_Server1.Level"] = "0"
	env["NZBOP_Server2.Host"] = "news2.example"
	env["NZBOP_Server2.Active"] = "yes"
	env["NZBOP_Server2.Level"] = "1"
	// no Server3.Host: scanning must stop here even if Server4 existed
	env["NZBOP_Server4.Host"] = "news4.example"

	cfg, err := Load(fakeLookup(env))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected exactly 2 providers (scan stops at the first gap), got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Host != "news1.example" || cfg.Providers[1].Host != "news2.example" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
}

func TestLoadMarksFillServers(t *testing.T) {
	env := baseEnv()
	env["NZBOP_Server1.Host"] = "news1.example"
	env["NZBOP_Server1.Active"] = "yes"
	env["NZBPO_FillServers"] = "1"

	cfg, err := Load(fakeLookup(env))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Providers[0].IsFill {
		t.Fatal("expected provider 1 to be marked as a fill server")
	}
}

func TestLoadCheckDupesMode(t *testing.T) {
	env := baseEnv()
	env["NZBPO_CheckDupes"] = "SameScore"
	cfg, err := Load(fakeLookup(env))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Options.CheckDupes != models.DupeCheckSameScore {
		t.Fatalf("expected SameScore dupe-check mode, got %v", cfg.Options.CheckDupes)
	}
}
