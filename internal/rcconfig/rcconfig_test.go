package rcconfig

import "testing"

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.TrunkBranches) == 0 {
		t.Fatal("expected default trunk branches")
	}
	if cfg.IndexLockTimeout.Duration() <= 0 {
		t.Fatal("expected default index lock timeout")
	}
	if cfg.IntentTTL.Duration() <= 0 {
		t.Fatal("expected default intent TTL")
	}
}

func TestParseHonoursExplicitValues(t *testing.T) {
	cfg, err := parse([]byte(`
trunk_branches: ["main", "release"]
index_lock_timeout: "5s"
adapter_timeout: "2m"
intent_ttl: "30m"
`))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsTrunk("release") {
		t.Fatal("expected release to be a trunk branch")
	}
	if cfg.IsTrunk("feat/a") {
		t.Fatal("did not expect feat/a to be trunk")
	}
}

func TestParseDefaultsForgeCacheTTLWhenForgeConfigured(t *testing.T) {
	cfg, err := parse([]byte(`
forge:
  base_url: "https://api.github.com"
  owner: "acme"
  repo: "widgets"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forge == nil {
		t.Fatal("expected forge config to be parsed")
	}
	if cfg.Forge.CacheTTL.Duration() <= 0 {
		t.Fatal("expected default forge cache TTL")
	}
}

func TestParseLeavesForgeNilWhenOmitted(t *testing.T) {
	cfg, err := parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forge != nil {
		t.Fatal("expected nil forge config when omitted")
	}
}

func TestValidateRejectsDuplicateTrunkNames(t *testing.T) {
	cfg := &Config{
		TrunkBranches:    []string{"main", "main"},
		IndexLockTimeout: Duration(1),
		AdapterTimeout:   Duration(1),
		IntentTTL:        Duration(1),
	}
	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected duplicate trunk branch to be rejected")
	}
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := &Config{TrunkBranches: []string{"main"}}
	errs := Validate(cfg)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors (all three durations zero), got %d: %v", len(errs), errs)
	}
}
