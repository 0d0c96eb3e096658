package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhucNguyen204/cbquery/internal/convert"
)

const whoamiRule = `title: Whoami Execution
id: 1f3a8f0e-6c47-4e0b-9a55-0b3c8f1d2a01
logsource:
  category: process_creation
detection:
  selection:
    Image|endswith: '\whoami.exe'
  filter:
    User: 'NT AUTHORITY\SYSTEM'
  condition: selection and not filter
`

const hashRule = `title: Known Bad Hash
id: 5b0c1f7e-0000-4000-8000-000000000002
logsource:
  category: process_creation
detection:
  selection:
    Hashes: abc
  condition: selection
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func rulesDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "cbquery", cmd.Use)
	for _, name := range []string{"convert", "serve", "fields", "dialects"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "dialect", "log-level"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
	conv, _, err := cmd.Find([]string{"convert"})
	require.NoError(t, err)
	assert.Equal(t, "text", conv.Flags().Lookup("format").DefValue)
	assert.Equal(t, "o", conv.Flags().Lookup("output").Shorthand)
}

func TestConvertText(t *testing.T) {
	dir := rulesDir(t, map[string]string{"whoami.yml": whoamiRule, "hash.yml": hashRule})

	stdout, stderr, err := execute(t, "convert", "--dialect", "edr", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Whoami Execution (1f3a8f0e-6c47-4e0b-9a55-0b3c8f1d2a01)")
	assert.Contains(t, stdout, `process_name:whoami.exe -username:NT\ AUTHORITY\\SYSTEM`)
	assert.NotContains(t, stdout, "Known Bad Hash")
	assert.Contains(t, stderr, "[mapping]")
	assert.Contains(t, stderr, "edr: converted 1, failed 1")
}

func TestConvertJSONToFile(t *testing.T) {
	dir := rulesDir(t, map[string]string{"whoami.yml": whoamiRule})
	out := filepath.Join(t.TempDir(), "out.json")

	_, _, err := execute(t, "convert", "--format", "json", "-o", out, filepath.Join(dir, "whoami.yml"))
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var rep convert.Report
	require.NoError(t, json.Unmarshal(b, &rep))
	assert.Equal(t, "response", rep.Dialect)
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, `process_name:whoami.exe -username:NT\ AUTHORITY\SYSTEM`, rep.Outcomes[0].Query)
}

func TestConvertErrors(t *testing.T) {
	_, _, err := execute(t, "convert", rulesDir(t, map[string]string{"hash.yml": hashRule}))
	assert.ErrorContains(t, err, "none of 1 rules")

	_, _, err = execute(t, "convert", t.TempDir())
	assert.ErrorContains(t, err, "no Sigma rules")

	_, _, err = execute(t, "convert", "--format", "xml", t.TempDir())
	assert.ErrorContains(t, err, "invalid format")

	_, _, err = execute(t, "convert", "--dialect", "splunk", t.TempDir())
	assert.ErrorContains(t, err, "unknown dialect")

	_, _, err = execute(t, "convert", "--persist", rulesDir(t, map[string]string{"whoami.yml": whoamiRule}))
	assert.ErrorContains(t, err, "database.dsn")
}

func TestConvertWithConfigOverrides(t *testing.T) {
	dir := rulesDir(t, map[string]string{"hash.yml": hashRule})
	cfg := filepath.Join(t.TempDir(), "cbquery.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
dialect: cloud
tables:
  process_creation: process
fields:
  mappings:
    - field: Hashes
      target: md5
`), 0o644))

	stdout, stderr, err := execute(t, "--config", cfg, "convert", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# table: process")
	assert.Contains(t, stdout, "md5:abc")
	assert.Contains(t, stderr, "cloud: converted 1, failed 0")
}

func TestFieldsAndDialects(t *testing.T) {
	stdout, _, err := execute(t, "fields")
	require.NoError(t, err)
	assert.Contains(t, stdout, "FIELD")
	assert.Contains(t, stdout, "ParentImage")
	assert.Contains(t, stdout, "parent_name")

	stdout, _, err = execute(t, "fields", "--format", "json")
	require.NoError(t, err)
	var fields []fieldRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &fields))
	assert.NotEmpty(t, fields)

	stdout, _, err = execute(t, "dialects", "--dialect", "edr", "--format", "json")
	require.NoError(t, err)
	var dialects []dialectRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &dialects))
	require.Len(t, dialects, 3)
	assert.Equal(t, "response", dialects[0].Name)
	assert.True(t, dialects[1].Default)
	assert.Equal(t, "NOT ", dialects[2].Not)
}
