package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rebasectl/rebasectl/internal/gitcli"
	"github.com/rebasectl/rebasectl/internal/rcconfig"
	"github.com/rebasectl/rebasectl/internal/rebasectl"
	"github.com/rebasectl/rebasectl/internal/telemetry"
)

// loadAndValidateConfig loads a config file and validates it, printing errors to stderr.
// A load failure, including a missing file, is printed and returned as an error.
func loadAndValidateConfig(path string) (*rcconfig.Config, error) {
	cfg, err := rcconfig.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	if errs := rcconfig.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, nil
}

// resolveRepo finds the git repository root starting from the current
// working directory.
func resolveRepo() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(cwd)
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root")
	}
	return repoDir, nil
}

// findGitRoot walks up from dir looking for a .git directory.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// newService resolves the repository root, loads configuration, and
// builds a rebasectl.Service wired to the real git binary, the shape every
// command below shares.
func newService() (*rebasectl.Service, string, error) {
	repoDir, err := resolveRepo()
	if err != nil {
		return nil, "", err
	}

	cfgPath := configPath
	if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoDir, cfgPath)
	}
	var cfg *rcconfig.Config
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		cfg, err = loadAndValidateConfig(cfgPath)
		if err != nil {
			return nil, "", err
		}
	} else {
		cfg = rcconfig.Defaults()
	}

	log, err := telemetry.New()
	if err != nil {
		return nil, "", fmt.Errorf("initializing logger: %w", err)
	}

	svc, err := rebasectl.New(gitcli.New(), repoDir, cfg, log, nowMs)
	if err != nil {
		return nil, "", err
	}
	return svc, repoDir, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// short truncates a commit hash for display.
func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
