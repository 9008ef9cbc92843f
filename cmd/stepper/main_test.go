package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetPlanYAML = `name: greet
keywords: [hello]
tasks:
  - id: open
    operation: app.open
  - id: say
    operation: clipboard.copy
    depends_on: [open]
`

func TestRun(t *testing.T) {
	tests := map[string]struct {
		args      func(dataDir string) []string
		expErr    bool
		expStdout func(t *testing.T, stdout []byte)
	}{
		"Listing the templates should print the plans directory templates.": {
			args: func(dataDir string) []string {
				return []string{"--data-dir", dataDir, "template", "list", "--format", "json"}
			},
			expStdout: func(t *testing.T, stdout []byte) {
				var tpls []map[string]any
				require.NoError(t, json.Unmarshal(stdout, &tpls))
				require.Len(t, tpls, 1)
				assert.Equal(t, "greet", tpls[0]["name"])
			},
		},

		"Running a request with the fake executor should complete the matched plan.": {
			args: func(dataDir string) []string {
				return []string{"--no-log", "--data-dir", dataDir, "run", "hello world", "--executor", "fake", "--format", "json"}
			},
			expStdout: func(t *testing.T, stdout []byte) {
				var report map[string]any
				require.NoError(t, json.Unmarshal(stdout, &report))
				assert.Equal(t, "greet", report["plan_name"])
				assert.Equal(t, true, report["success"])
				assert.NotEmpty(t, report["checkpoint_id"])
			},
		},

		"A dry run should print the plan layers.": {
			args: func(dataDir string) []string {
				return []string{"--data-dir", dataDir, "run", "hello", "--dry-run", "--strategy", "mixed", "--format", "json"}
			},
			expStdout: func(t *testing.T, stdout []byte) {
				var plan struct {
					Strategy string     `json:"strategy"`
					Layers   [][]string `json:"layers"`
				}
				require.NoError(t, json.Unmarshal(stdout, &plan))
				assert.Equal(t, "mixed", plan.Strategy)
				assert.Equal(t, [][]string{{"open"}, {"say"}}, plan.Layers)
			},
		},

		"A request that matches no template should fail.": {
			args: func(dataDir string) []string {
				return []string{"--no-log", "--data-dir", dataDir, "run", "cook dinner", "--executor", "fake"}
			},
			expErr: true,
		},

		"Showing a missing checkpoint should fail.": {
			args: func(dataDir string) []string {
				return []string{"--data-dir", dataDir, "checkpoint", "show", "missing"}
			},
			expErr: true,
		},

		"An unknown command should fail.": {
			args: func(dataDir string) []string {
				return []string{"--data-dir", dataDir, "explode"}
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dataDir := t.TempDir()
			plansDir := filepath.Join(dataDir, "plans")
			require.NoError(t, os.MkdirAll(plansDir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(plansDir, "greet.yaml"), []byte(greetPlanYAML), 0o644))

			var stdout, stderr bytes.Buffer
			args := append([]string{"stepper"}, test.args(dataDir)...)
			err := Run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)

			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err, "stderr: %s", stderr.String())
			test.expStdout(t, stdout.Bytes())
		})
	}
}
