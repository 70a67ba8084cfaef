package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/extension-ci/chromium-test-harness/framework/browser"
	"github.com/extension-ci/chromium-test-harness/framework/harness"
	"github.com/extension-ci/chromium-test-harness/framework/opt"
	"github.com/extension-ci/chromium-test-harness/framework/tap"
)

const envPrefix = "HARNESS"

// config is everything that can be set in the config file or the environment. Command-line
// flags override both.
type config struct {
	BuildDir             string         `yaml:"buildDir" envconfig:"BUILD_DIR"`
	Artifact             string         `yaml:"artifact" envconfig:"ARTIFACT"`
	Exclude              []string       `yaml:"exclude" envconfig:"EXCLUDE"`
	Browser              string         `yaml:"browser" envconfig:"BROWSER"`
	Headless             bool           `yaml:"headless" envconfig:"HEADLESS"`
	InstallDriver        bool           `yaml:"installDriver" envconfig:"INSTALL_DRIVER"`
	ServiceCommand       string         `yaml:"serviceCommand" envconfig:"SERVICE_COMMAND"`
	ServiceURL           string         `yaml:"serviceURL" envconfig:"SERVICE_URL"`
	ServiceOutputExclude []string       `yaml:"serviceOutputExclude" envconfig:"SERVICE_OUTPUT_EXCLUDE"`
	ExtensionPrefix      string         `yaml:"extensionPrefix" envconfig:"EXTENSION_PREFIX"`
	PollInterval         time.Duration  `yaml:"pollInterval" envconfig:"POLL_INTERVAL"`
	LocateTimeout        time.Duration  `yaml:"locateTimeout" envconfig:"LOCATE_TIMEOUT"`
	LocateMaxAttempts    opt.Maybe[int] `yaml:"locateMaxAttempts" ignored:"true"`
	JUnitFile            string         `yaml:"junit" envconfig:"JUNIT"`
	Debug                bool           `yaml:"debug" envconfig:"DEBUG"`
}

func defaultConfig() config {
	defaults := harness.DefaultConfig()
	return config{
		BuildDir:        defaults.BuildDir,
		Artifact:        defaults.ArtifactPath,
		ServiceCommand:  strings.Join(harness.DefaultServiceCommand, " "),
		ExtensionPrefix: defaults.ExtensionURLPrefix,
		PollInterval:    defaults.PollInterval,
	}
}

type commandParams struct {
	config     config
	configFile string
	filters    tap.RegexFilters
	skipFile   string
}

func (c *commandParams) Read(args []string) bool {
	if err := c.parse(args, afero.NewOsFs()); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		return false
	}
	return true
}

func (c *commandParams) parse(args []string, fs afero.Fs) error {
	var f config
	var maxAttempts int
	defaults := defaultConfig()

	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.StringVar(&c.configFile, "config", "", "YAML file to read settings from")
	flags.StringVar(&f.BuildDir, "build-dir", defaults.BuildDir, "directory containing the built extension")
	flags.StringVar(&f.Artifact, "artifact", defaults.Artifact, "path to write the packaged extension to")
	flags.StringSliceVar(&f.Exclude, "exclude", nil, "glob pattern(s) of build files to leave out of the package")
	flags.StringVar(&f.Browser, "browser", "", "Chromium executable to use instead of the bundled one")
	flags.BoolVar(&f.Headless, "headless", false, "run the browser without a window")
	flags.BoolVar(&f.InstallDriver, "install-driver", false, "download the browser driver before launching")
	flags.StringVar(&f.ServiceCommand, "service-command", defaults.ServiceCommand, "command that runs the mock service")
	flags.StringVar(&f.ServiceURL, "service-url", "", "wait until the mock service answers at this URL")
	flags.StringSliceVar(&f.ServiceOutputExclude, "service-output-exclude", nil,
		"regex pattern(s) of mock service output lines to hide")
	flags.StringVar(&f.ExtensionPrefix, "extension-prefix", defaults.ExtensionPrefix,
		"address prefix of the extension's own pages")
	flags.DurationVar(&f.PollInterval, "poll-interval", defaults.PollInterval, "how often to read the browser console")
	flags.DurationVar(&f.LocateTimeout, "locate-timeout", 0,
		"give up if the extension's page is not found in this time (0 means never)")
	flags.IntVar(&maxAttempts, "locate-max-attempts", 0,
		"give up after inspecting this many pages without finding the extension (0 means never)")
	flags.Var(&c.filters.Suppress, "skip", "regex pattern(s) of test failures to ignore")
	flags.StringVar(&c.skipFile, "skip-from", "", "file listing test failures to ignore, one per line")
	flags.StringVar(&f.JUnitFile, "junit", "", "write JUnit XML output to the specified path")
	flags.BoolVar(&f.Debug, "debug", false, "enable debug logging")

	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if flags.NArg() != 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}

	c.config = defaults
	if c.configFile != "" {
		data, err := afero.ReadFile(fs, c.configFile)
		if err != nil {
			return fmt.Errorf("cannot read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c.config); err != nil {
			return fmt.Errorf("invalid config file %s: %w", c.configFile, err)
		}
	}
	if err := envconfig.Process(envPrefix, &c.config); err != nil {
		return fmt.Errorf("invalid environment setting: %w", err)
	}

	overrides := map[string]func(){
		"build-dir":              func() { c.config.BuildDir = f.BuildDir },
		"artifact":               func() { c.config.Artifact = f.Artifact },
		"exclude":                func() { c.config.Exclude = f.Exclude },
		"browser":                func() { c.config.Browser = f.Browser },
		"headless":               func() { c.config.Headless = f.Headless },
		"install-driver":         func() { c.config.InstallDriver = f.InstallDriver },
		"service-command":        func() { c.config.ServiceCommand = f.ServiceCommand },
		"service-url":            func() { c.config.ServiceURL = f.ServiceURL },
		"service-output-exclude": func() { c.config.ServiceOutputExclude = f.ServiceOutputExclude },
		"extension-prefix":       func() { c.config.ExtensionPrefix = f.ExtensionPrefix },
		"poll-interval":          func() { c.config.PollInterval = f.PollInterval },
		"locate-timeout":         func() { c.config.LocateTimeout = f.LocateTimeout },
		"locate-max-attempts":    func() { c.config.LocateMaxAttempts = opt.NonZero(maxAttempts) },
		"junit":                  func() { c.config.JUnitFile = f.JUnitFile },
		"debug":                  func() { c.config.Debug = f.Debug },
	}
	flags.Visit(func(flag *pflag.Flag) {
		if override, ok := overrides[flag.Name]; ok {
			override()
		}
	})

	if len(c.serviceCommand()) == 0 {
		return errors.New("service command must not be empty")
	}
	if _, err := c.serviceOutputExclude(); err != nil {
		return err
	}
	return nil
}

func (c commandParams) serviceCommand() []string {
	return strings.Fields(c.config.ServiceCommand)
}

func (c commandParams) serviceOutputExclude() ([]*regexp.Regexp, error) {
	ret := make([]*regexp.Regexp, 0, len(c.config.ServiceOutputExclude))
	for _, p := range c.config.ServiceOutputExclude {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid service output pattern %q: %w", p, err)
		}
		ret = append(ret, rx)
	}
	return ret, nil
}

func (c commandParams) harnessConfig() harness.Config {
	ret := harness.DefaultConfig()
	ret.BuildDir = c.config.BuildDir
	ret.ArtifactPath = c.config.Artifact
	ret.Exclude = c.config.Exclude
	ret.ExtensionURLPrefix = c.config.ExtensionPrefix
	ret.PollInterval = c.config.PollInterval
	ret.LocateTimeout = opt.NonZero(c.config.LocateTimeout)
	if c.config.LocateMaxAttempts.IsDefined() && c.config.LocateMaxAttempts.Value() > 0 {
		ret.LocateMaxAttempts = c.config.LocateMaxAttempts
	}
	ret.ServiceURL = c.config.ServiceURL
	return ret
}

func (c commandParams) chromiumConfig() browser.ChromiumConfig {
	return browser.ChromiumConfig{
		ExecutablePath: c.config.Browser,
		Headless:       c.config.Headless,
		InstallDriver:  c.config.InstallDriver,
	}
}
