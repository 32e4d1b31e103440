package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "diff", "a", "b")
	assert.Error(t, err)
}

func TestDiffCommandText(t *testing.T) {
	oldPath := writeFile(t, "old.json", `{"name":"fletch"}`)
	newPath := writeFile(t, "new.json", `{"name":"Fletch","firstname":"Robert"}`)

	out, err := execute(t, "diff", oldPath, newPath)
	require.NoError(t, err)

	assert.Contains(t, out, "add")
	assert.Contains(t, out, "/firstname")
	assert.Contains(t, out, "replace")
	assert.Contains(t, out, "/name")
}

func TestDiffCommandJSON(t *testing.T) {
	oldPath := writeFile(t, "old.json", `{"a":1}`)
	newPath := writeFile(t, "new.json", `{"a":2}`)

	out, err := execute(t, "--format", "json", "diff", oldPath, newPath)
	require.NoError(t, err)

	assert.JSONEq(t, `[{"op":"replace","path":"/a","value":2}]`, out)
}

func TestDiffCommandIdentical(t *testing.T) {
	path := writeFile(t, "doc.json", `{"a":1}`)

	out, err := execute(t, "diff", path, path)
	require.NoError(t, err)
	assert.Contains(t, out, "identical")
}

func TestDiffCommandMissingFile(t *testing.T) {
	path := writeFile(t, "doc.json", `{}`)

	_, err := execute(t, "diff", path, filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApplyCommand(t *testing.T) {
	docPath := writeFile(t, "doc.json", `{"name":"fletch"}`)
	patchPath := writeFile(t, "patch.json", `[{"op":"replace","path":"/name","value":"Fletch"}]`)

	out, err := execute(t, "apply", docPath, patchPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Fletch"}`, out)
}

func TestApplyCommandWrite(t *testing.T) {
	docPath := writeFile(t, "doc.json", `{"n":1}`)
	patchPath := writeFile(t, "patch.json", `[{"op":"add","path":"/m","value":2}]`)

	_, err := execute(t, "apply", "--write", docPath, patchPath)
	require.NoError(t, err)

	data, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"m":2,"n":1}`, string(data))
}

func TestApplyCommandFailedPatch(t *testing.T) {
	docPath := writeFile(t, "doc.json", `{}`)
	patchPath := writeFile(t, "patch.json", `[{"op":"remove","path":"/missing"}]`)

	_, err := execute(t, "apply", docPath, patchPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	schemaPath := writeFile(t, "doc.cue", "{\n\tname: string\n}\n")
	goodPath := writeFile(t, "good.json", `{"name":"fletch"}`)
	badPath := writeFile(t, "bad.json", `{"name":42}`)

	out, err := execute(t, "validate", "--schema", schemaPath, goodPath)
	require.NoError(t, err)
	assert.Contains(t, out, "satisfies")

	_, err = execute(t, "validate", "--schema", schemaPath, badPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSyncConfigMergeAndValidate(t *testing.T) {
	config := SyncConfig{Server: "ws://flag"}
	mergeConfig(&config, SyncConfig{
		Server:       "ws://file",
		DocumentID:   "doc1",
		DocumentPath: "doc.json",
	})

	// Flag value wins; file fills the rest
	assert.Equal(t, "ws://flag", config.Server)
	assert.Equal(t, "doc1", config.DocumentID)
	assert.Equal(t, "doc.json", config.DocumentPath)
	assert.NoError(t, config.validate())

	missing := SyncConfig{Server: "ws://x"}
	assert.Error(t, missing.validate())
}

func TestSyncCommandRequiresConfiguration(t *testing.T) {
	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCodeDefaults(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "boom", nil)))
}
