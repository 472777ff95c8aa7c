package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	DefaultIdleTimeout = "PT30S"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int       `json:"version" yaml:"version"` // fixed 0 for now
	Runner   Runner    `json:"runner" yaml:"runner"`
	Profiles []Profile `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Service  Service   `json:"service" yaml:"service"`
}

// Runner describes the test-runner executable shared by all profiles.
type Runner struct {
	Executable  string            `json:"executable" yaml:"executable"`
	Reporter    string            `json:"reporter" yaml:"reporter"` // passed as -o <reporter>
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir         string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	IdleTimeout string            `json:"idle_timeout" yaml:"idle_timeout"` // ISO8601, e.g. PT30S
	// Pattern expands directories listed in files to the files matching
	// it, e.g. *.vader. Directories are passed unchanged when empty.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Profile is a named selection of filters and files. Args and Env
// extend the ones of Runner.
type Profile struct {
	Name    string            `json:"name" yaml:"name"`
	Filters []string          `json:"filters,omitempty" yaml:"filters,omitempty"`
	Files   []string          `json:"files,omitempty" yaml:"files,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

type Service struct {
	Mode       string         `json:"mode" yaml:"mode"`
	Schedule   *TimerSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Verbose    bool           `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Dir        string         `json:"dir,omitempty" yaml:"dir,omitempty"` // run reports output directory
	Repository *Repository    `json:"repository,omitempty" yaml:"repository,omitempty"`
	History    string         `json:"history,omitempty" yaml:"history,omitempty"` // sqlite path
	Metrics    string         `json:"metrics,omitempty" yaml:"metrics,omitempty"` // listen address
	Parallel   int            `json:"parallel" yaml:"parallel"`
}

// TimerSchedule is either a 5 field cron expression or an ISO8601 duration.
type TimerSchedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Repository is a remote endpoint run reports are POSTed to.
type Repository struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("herald.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// validate checks the constraints CUE schema does not express
func (c Config) validate() error {
	if _, err := ParseISODuration(c.Runner.IdleTimeout); err != nil {
		return fmt.Errorf("runner.idle_timeout: %w", err)
	}
	if c.Runner.Pattern != "" {
		if _, err := path.Match(c.Runner.Pattern, ""); err != nil {
			return fmt.Errorf("runner.pattern: %w", err)
		}
	}
	if c.Service.Mode == ServiceModeTimer {
		if c.Service.Schedule == nil {
			return errors.New("service.schedule: required in timer mode")
		}
		if _, err := c.Service.Schedule.Interval(); err != nil {
			return fmt.Errorf("service.schedule: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Profiles))
	for _, p := range c.Profiles {
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("profiles: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// IdleTimeout returns the parsed runner.idle_timeout.
func (c Config) IdleTimeout() time.Duration {
	d, err := ParseISODuration(c.Runner.IdleTimeout)
	if err != nil {
		return 0
	}
	return d
}

// SelectProfiles returns profiles with given names in a config order. Empty
// names select every profile, or a single unnamed default profile when
// config has none.
func (c Config) SelectProfiles(names ...string) ([]Profile, error) {
	if len(c.Profiles) == 0 {
		if len(names) != 0 {
			return nil, fmt.Errorf("profile %q: %w", names[0], ErrUnknownProfile)
		}
		return []Profile{{Name: "default"}}, nil
	}
	if len(names) == 0 {
		return slices.Clone(c.Profiles), nil
	}
	var ret []Profile
	for _, name := range names {
		idx := slices.IndexFunc(c.Profiles, func(p Profile) bool { return p.Name == name })
		if idx == -1 {
			return nil, fmt.Errorf("profile %q: %w", name, ErrUnknownProfile)
		}
		ret = append(ret, c.Profiles[idx])
	}
	return ret, nil
}

// DefaultConfig is written when no configuration file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Runner: Runner{
			Executable:  "vim",
			Reporter:    "reporter.vim",
			IdleTimeout: DefaultIdleTimeout,
		},
		Service: Service{
			Mode:     ServiceModeManual,
			Parallel: 1,
		},
	}
}
