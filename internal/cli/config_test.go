package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigFile_ExplicitPath(t *testing.T) {
	// Create temp file
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "custom.yaml")
	err := os.WriteFile(tmpFile, []byte("manifest: test.yaml"), 0o644)
	require.NoError(t, err)

	path, err := findConfigFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, tmpFile, path)
}

func TestFindConfigFile_ExplicitPathNotFound(t *testing.T) {
	_, err := findConfigFile("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFindConfigFile_AutoDiscovery(t *testing.T) {
	// Create directory structure with .git and pgink.yaml
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "pgink.yaml")
	err = os.WriteFile(configPath, []byte("manifest: test.yaml"), 0o644)
	require.NoError(t, err)

	// Create nested directory
	nested := filepath.Join(root, "deep", "nested")
	err = os.MkdirAll(nested, 0o755)
	require.NoError(t, err)

	// Change to nested directory
	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(nested)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)

	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedPath, _ := filepath.EvalSymlinks(configPath)
	actualPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expectedPath, actualPath)
}

func TestFindConfigFile_PrefersYamlOverYml(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	// Create both files
	yamlPath := filepath.Join(root, "pgink.yaml")
	ymlPath := filepath.Join(root, "pgink.yml")
	err = os.WriteFile(yamlPath, []byte("manifest: yaml.yaml"), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(ymlPath, []byte("manifest: yml.yaml"), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)

	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedPath, _ := filepath.EvalSymlinks(yamlPath)
	actualPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expectedPath, actualPath) // Should prefer .yaml
}

func TestFindConfigFile_StopsAtGitRoot(t *testing.T) {
	// Config above .git should not be found
	root := t.TempDir()
	err := os.WriteFile(filepath.Join(root, "pgink.yaml"), []byte("manifest: above.yaml"), 0o644)
	require.NoError(t, err)

	project := filepath.Join(root, "project")
	err = os.MkdirAll(project, 0o755)
	require.NoError(t, err)
	err = os.Mkdir(filepath.Join(project, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(project)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path) // Should not find config above .git
}

func TestFindConfigFile_NoConfigReturnsEmpty(t *testing.T) {
	// Create directory with .git but no config
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadConfig_Defaults(t *testing.T) {
	// Create directory with .git but no config
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	cfg, configPath, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, configPath)

	// Check defaults
	assert.Equal(t, "pgink.manifest.yaml", cfg.Manifest)
	assert.Equal(t, "MODULE_PATHNAME", cfg.ModulePathname)
	assert.Equal(t, "pgink.sql", cfg.Generate.Output)
	assert.Equal(t, "main", cfg.Generate.WrapperPackage)
}

func TestLoadConfig_FromFile(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "pgink.yaml")
	err = os.WriteFile(configPath, []byte(`
manifest: custom/manifest.yaml
default_schema: ext
generate:
  output: out/extension.sql
  wrapper_package: wrappers
`), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	cfg, foundPath, err := LoadConfig("")
	require.NoError(t, err)

	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedPath, _ := filepath.EvalSymlinks(configPath)
	actualPath, _ := filepath.EvalSymlinks(foundPath)
	assert.Equal(t, expectedPath, actualPath)

	assert.Equal(t, "custom/manifest.yaml", cfg.Manifest)
	assert.Equal(t, "ext", cfg.DefaultSchema)
	assert.Equal(t, "out/extension.sql", cfg.Generate.Output)
	assert.Equal(t, "wrappers", cfg.Generate.WrapperPackage)

	// Check that defaults are still applied for unset values
	assert.Equal(t, "MODULE_PATHNAME", cfg.ModulePathname)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	configPath := filepath.Join(root, "pgink.yaml")
	err = os.WriteFile(configPath, []byte("manifest: file.yaml"), 0o644)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	// Set env var
	t.Setenv("PGINK_MANIFEST", "env.yaml")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, "env.yaml", cfg.Manifest)
}

func TestLoadConfig_NestedEnvVars(t *testing.T) {
	root := t.TempDir()
	err := os.Mkdir(filepath.Join(root, ".git"), 0o755)
	require.NoError(t, err)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()
	err = os.Chdir(root)
	require.NoError(t, err)

	// Set nested env vars
	t.Setenv("PGINK_GENERATE_OUTPUT", "env.sql")
	t.Setenv("PGINK_GENERATE_WRAPPER_DIR", "envwrappers")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env.sql", cfg.Generate.Output)
	assert.Equal(t, "envwrappers", cfg.Generate.WrapperDir)
}
