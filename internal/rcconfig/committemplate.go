package rcconfig

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// CommitTemplateData is what a commit_template string is rendered against.
type CommitTemplateData struct {
	Branch         string
	OldBaseSha     string
	NewBaseSha     string
	RebasedSha     string
	OriginalBranch string
}

// RenderCommitTrailer renders cfg.CommitTemplate with sprig's string helpers
// available (e.g. {{ .Branch | trunc 12 }}), returning "" unchanged if no
// template is configured (commit-message annotation is off by default).
func RenderCommitTrailer(cfg *Config, data CommitTemplateData) (string, error) {
	if cfg.CommitTemplate == "" {
		return "", nil
	}

	tmpl, err := template.New("commit_template").Funcs(sprig.FuncMap()).Parse(cfg.CommitTemplate)
	if err != nil {
		return "", fmt.Errorf("rcconfig: parsing commit_template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rcconfig: rendering commit_template: %w", err)
	}
	return buf.String(), nil
}
