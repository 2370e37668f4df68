package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployCommand_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dispatch.db")

	out, err := execute(t, db, "deploy", testManifest)
	require.NoError(t, err)
	assert.Contains(t, out, "proxy   0x")
	assert.Contains(t, out, "(owner owner)")
	assert.Contains(t, out, "module  ledger")
	assert.Contains(t, out, "message-ledger")
	assert.Contains(t, out, "module  relay")
	assert.Contains(t, out, "payment-relay")
}

func TestDeployCommand_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dispatch.db")

	out, err := execute(t, db, "deploy", testManifest, "--format", "json")
	require.NoError(t, err)

	var result DeployResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "owner", result.Owner)
	require.Len(t, result.Modules, 2)
	assert.Equal(t, "ledger", result.Modules[0].Name)
	assert.Equal(t, "relay", result.Modules[1].Name)
	assert.NotEqual(t, result.Proxy, result.Modules[0].Address)
}

func TestDeployCommand_AlreadyDeployed(t *testing.T) {
	db := deployed(t)

	out, err := execute(t, db, "deploy", testManifest)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeDeployed)
	assert.Contains(t, out, "already holds a deployment")
}

func TestDeployCommand_MissingManifest(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dispatch.db")

	out, err := execute(t, db, "deploy", "testdata/nowhere.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
	assert.NoFileExists(t, db, "nothing is opened for a missing manifest")
}

func TestDeployCommand_InvalidManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("owner: \"owner\"\nmodules: ledger: kind: \"no-such-kind\"\n"), 0o644))

	out, err := execute(t, filepath.Join(dir, "dispatch.db"), "deploy", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeLoadFailed)
}

func TestLoadManifest_CompileErrorPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("owner: 42\n"), 0o644))

	_, err := loadManifest(path)
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeLoadFailed, le.Code)
	assert.Contains(t, le.Error(), ErrCodeLoadFailed)
}
