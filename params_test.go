package main

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extension-ci/chromium-test-harness/framework/opt"
	"github.com/extension-ci/chromium-test-harness/framework/tap"
)

func parseParams(t *testing.T, fs afero.Fs, args ...string) commandParams {
	t.Helper()
	var params commandParams
	require.NoError(t, params.parse(append([]string{"harness"}, args...), fs))
	return params
}

func TestParamsDefaults(t *testing.T) {
	params := parseParams(t, afero.NewMemMapFs())

	assert.Equal(t, defaultConfig(), params.config)
	assert.Equal(t, []string{"node", "./tests/test-server.js"}, params.serviceCommand())

	h := params.harnessConfig()
	assert.Equal(t, "build", h.BuildDir)
	assert.Equal(t, "ext.zip", h.ArtifactPath)
	assert.Equal(t, "chrome-extension://", h.ExtensionURLPrefix)
	assert.Equal(t, time.Second, h.PollInterval)
	assert.False(t, h.LocateTimeout.IsDefined())
	assert.False(t, h.LocateMaxAttempts.IsDefined())
}

func TestParamsFlags(t *testing.T) {
	params := parseParams(t, afero.NewMemMapFs(),
		"--build-dir", "dist", "--exclude", "**.map", "--exclude", "**.ts",
		"--headless", "--service-command", "npm run mock",
		"--poll-interval", "250ms", "--locate-timeout", "30s", "--locate-max-attempts", "50",
		"--skip", "storage/flaky", "--browser", "/usr/bin/chromium",
	)

	assert.Equal(t, "dist", params.config.BuildDir)
	assert.Equal(t, []string{"**.map", "**.ts"}, params.config.Exclude)
	assert.Equal(t, []string{"npm", "run", "mock"}, params.serviceCommand())
	assert.True(t, params.filters.Suppressed(tap.TestID{"storage", "flaky sync"}))

	h := params.harnessConfig()
	assert.Equal(t, time.Millisecond*250, h.PollInterval)
	assert.Equal(t, opt.Some(time.Second*30), h.LocateTimeout)
	assert.Equal(t, opt.Some(50), h.LocateMaxAttempts)

	c := params.chromiumConfig()
	assert.True(t, c.Headless)
	assert.Equal(t, "/usr/bin/chromium", c.ExecutablePath)
}

func TestParamsPrecedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "harness.yaml", []byte(`
buildDir: from-file
artifact: from-file.zip
pollInterval: 2s
locateMaxAttempts: 7
junit: from-file.xml
`), 0o644))
	t.Setenv("HARNESS_ARTIFACT", "from-env.zip")
	t.Setenv("HARNESS_JUNIT", "from-env.xml")

	params := parseParams(t, fs, "--config", "harness.yaml", "--junit", "from-flag.xml")

	assert.Equal(t, "from-file", params.config.BuildDir)
	assert.Equal(t, "from-env.zip", params.config.Artifact)
	assert.Equal(t, "from-flag.xml", params.config.JUnitFile)
	assert.Equal(t, time.Second*2, params.config.PollInterval)
	assert.Equal(t, opt.Some(7), params.config.LocateMaxAttempts)
}

func TestParamsZeroMaxAttemptsFromFileIsUnbounded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "harness.yaml", []byte("locateMaxAttempts: 0\n"), 0o644))

	params := parseParams(t, fs, "--config", "harness.yaml")

	assert.False(t, params.harnessConfig().LocateMaxAttempts.IsDefined())
}

func TestParamsEnvironmentList(t *testing.T) {
	t.Setenv("HARNESS_SERVICE_OUTPUT_EXCLUDE", "^GET ,^POST ")
	params := parseParams(t, afero.NewMemMapFs())

	patterns, err := params.serviceOutputExclude()
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.True(t, patterns[1].MatchString("POST /report"))
}

func TestParamsErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("pollInterval: [1"), 0o644))

	for name, args := range map[string][]string{
		"unknown flag":        {"--nope"},
		"stray argument":      {"build"},
		"missing config file": {"--config", "missing.yaml"},
		"invalid config file": {"--config", "bad.yaml"},
		"empty command":       {"--service-command", " "},
		"bad output pattern":  {"--service-output-exclude", "("},
		"bad skip pattern":    {"--skip", "a/("},
		"bad duration":        {"--poll-interval", "soon"},
	} {
		t.Run(name, func(t *testing.T) {
			var params commandParams
			assert.Error(t, params.parse(append([]string{"harness"}, args...), fs))
		})
	}
}

func TestParamsInvalidEnvironment(t *testing.T) {
	t.Setenv("HARNESS_HEADLESS", "sometimes")
	var params commandParams
	assert.Error(t, params.parse([]string{"harness"}, afero.NewMemMapFs()))
}
