package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
size_constraints: "0,2,0,2"
min_iterations: 3
max_iterations: 40
viterbi: true
fixed_discount: "0.2,0.4"
jobs: 4
run_db: runs.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0,2,0,2", p.SizeConstraints)
	assert.Equal(t, 3, p.MinIterations)
	assert.Equal(t, 40, p.MaxIterations)
	assert.True(t, p.Viterbi)
	assert.Equal(t, "0.2,0.4", p.FixedDiscount)
	assert.Equal(t, 4, p.Jobs)
	assert.Equal(t, "runs.db", p.RunDB)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
