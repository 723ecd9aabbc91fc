package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const permitConfig = "../../internal/workflow/testdata/building-permit.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileFile(t *testing.T) {
	def, doc, err := compileFile(permitConfig)
	require.NoError(t, err)
	assert.Equal(t, "building-permit", def.ServiceKey())
	assert.Equal(t, 1, def.Version())
	assert.Contains(t, string(doc), `"serviceKey":"building-permit"`)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", permitConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "building-permit v1: ok")
	assert.Contains(t, out, "initial DRAFT")
	assert.Contains(t, out, "1 authority overrides")
}

func TestConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown initial state",
			content: "serviceKey: trade-license\nversion: 1\nworkflow:\n  initialState: NOPE\n  states:\n    - id: DRAFT\n",
			want:    "initial state",
		},
		{
			name: "transition to undeclared state",
			content: "serviceKey: trade-license\nversion: 1\nworkflow:\n  initialState: DRAFT\n  states:\n    - id: DRAFT\n" +
				"  transitions:\n    - id: SUBMIT\n      from: DRAFT\n      to: SUBMITTED\n",
			want: "unknown to state",
		},
		{
			name:    "bad service key",
			content: "serviceKey: Trade License\nversion: 1\nworkflow:\n  initialState: DRAFT\n  states:\n    - id: DRAFT\n",
			want:    "service",
		},
		{
			name:    "not yaml",
			content: "serviceKey: [unclosed",
			want:    "parse service config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "service.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := execute(t, "config", "validate", path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ")
}

func TestConfigPublish_BadVersion(t *testing.T) {
	_, err := execute(t, "config", "publish", "building-permit", "zero")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestCommandArgs(t *testing.T) {
	_, err := execute(t, "config", "validate")
	assert.Error(t, err)

	_, err = execute(t, "migrate", "up", "extra")
	assert.Error(t, err)
}
