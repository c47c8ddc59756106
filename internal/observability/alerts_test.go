package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var knownMetrics = []string{
	"reembolso_http_requests_total",
	"reembolso_http_request_duration_seconds",
	"reembolso_expense_transitions_total",
	"reembolso_audit_append_failures_total",
	"reembolso_jobs_total",
	"reembolso_jobs_failures_total",
	"reembolso_job_duration_seconds",
	"reembolso_job_last_success_timestamp_seconds",
	"reembolso_identity_mismatches",
}

func loadRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "reembolso.yml"))
	require.NoError(t, err)
	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "reembolso" {
			return g.Rules
		}
	}
	t.Fatal("reembolso alert group missing")
	return nil
}

// runbookAnchors derives GitHub-style anchors from the runbook's level-two headings.
func runbookAnchors(t *testing.T) map[string]bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook.md"))
	require.NoError(t, err)
	anchors := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if title, ok := strings.CutPrefix(line, "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")] = true
		}
	}
	return anchors
}

func TestAlertRules(t *testing.T) {
	rules := loadRules(t)
	anchors := runbookAnchors(t)

	severities := map[string]string{
		"AuditAppendFailures":   "critical",
		"TransitionConflicts":   "warning",
		"HighErrorRate":         "critical",
		"IdentityRefreshFailed": "warning",
		"IdentityRefreshStale":  "warning",
	}
	require.Len(t, rules, len(severities))

	metricRef := regexp.MustCompile(`reembolso_[a-z_]+`)
	for _, rule := range rules {
		t.Run(rule.Alert, func(t *testing.T) {
			want, ok := severities[rule.Alert]
			require.True(t, ok, "unexpected rule")
			assert.Equal(t, want, rule.Labels["severity"])
			assert.NotEmpty(t, rule.For)
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])

			anchor, ok := strings.CutPrefix(rule.Annotations["runbook"], "docs/runbook.md#")
			require.True(t, ok, "runbook must point into docs/runbook.md")
			assert.True(t, anchors[anchor], "runbook anchor %q has no heading", anchor)

			refs := metricRef.FindAllString(rule.Expr, -1)
			require.NotEmpty(t, refs)
			for _, ref := range refs {
				assert.Contains(t, knownMetrics, ref)
			}
		})
	}
}
