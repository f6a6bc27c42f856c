package configuration

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/metal-toolbox/rackstab/internal/model"
)

const (
	SourceSimulator = "simulator"
	SourceFixture   = "fixture"
)

var (
	defaultInterval        = 30 * time.Second
	defaultServiceUUIDFile = "/var/lib/rackstab/service.uuid"
)

// Configuration holds application configuration read from a YAML or set by env variables.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// Agent is the agent kind, one of - pnc, compute, storage
	Agent string `mapstructure:"agent"`

	// ServiceUUID is the namespace persistent identifiers are hashed into.
	// When empty it is read from, or generated into, ServiceUUIDFile.
	ServiceUUID     string `mapstructure:"service_uuid"`
	ServiceUUIDFile string `mapstructure:"service_uuid_file"`

	// Source selects where resources are discovered from, one of - simulator, fixture
	Source string `mapstructure:"source"`

	// TopologyFile is the YAML topology read by the fixture source.
	TopologyFile string `mapstructure:"topology_file"`

	// Interval is the time between two discovery passes of the worker.
	Interval time.Duration `mapstructure:"interval"`

	MetricsAddress string `mapstructure:"metrics_address"`

	// SimulatorOptions defines the simulated hardware.
	SimulatorOptions *SimulatorOptions `mapstructure:"simulator"`

	// NotifyOptions defines where pass reports are published.
	NotifyOptions *NotifyOptions `mapstructure:"notify"`

	EnableProfiling bool `mapstructure:"enable_profiling"`
}

// SimulatorOptions defines the simulated hardware.
type SimulatorOptions struct {
	// WithheldSerials are serial numbers the simulator reports as not read yet.
	WithheldSerials []string `mapstructure:"withheld_serials"`
}

// NotifyOptions defines configuration for the pass report webhook.
type NotifyOptions struct {
	Endpoint             string   `mapstructure:"endpoint"`
	OidcIssuerEndpoint   string   `mapstructure:"oidc_issuer_endpoint"`
	OidcAudienceEndpoint string   `mapstructure:"oidc_audience_endpoint"`
	OidcClientSecret     string   `mapstructure:"oidc_client_secret"`
	OidcClientID         string   `mapstructure:"oidc_client_id"`
	OidcClientScopes     []string `mapstructure:"oidc_client_scopes"`
	DisableOAuth         bool     `mapstructure:"disable_oauth"`
}

// New creates a configuration struct with defaults set.
func New() *Configuration {
	config := &Configuration{
		Agent:           "pnc",
		Source:          SourceSimulator,
		ServiceUUIDFile: defaultServiceUUIDFile,
		Interval:        defaultInterval,
	}

	// these are initialized here so viper can read in configuration from env vars
	// once https://github.com/spf13/viper/pull/1429 is merged, this can go.
	config.SimulatorOptions = &SimulatorOptions{}
	config.NotifyOptions = &NotifyOptions{}

	return config
}

func (c *Configuration) AsLogFields() []any {
	return []any{
		"logLevel", c.LogLevel,
		"agent", c.Agent,
		"source", c.Source,
		"topologyFile", c.TopologyFile,
		"interval", c.Interval.String(),
		"serviceUUIDFile", c.ServiceUUIDFile,
		"notifyEndpoint", c.NotifyOptions.Endpoint,
		"disableOAuth", c.NotifyOptions.DisableOAuth,
		"enableProfiling", c.EnableProfiling,
	}
}

func (c *Configuration) LoadArgs(args *model.Args) {
	if args.LogLevel != "" {
		c.LogLevel = args.LogLevel
	}

	if args.Agent != "" {
		c.Agent = args.Agent
	}

	if args.TopologyFile != "" {
		c.Source = SourceFixture
		c.TopologyFile = args.TopologyFile
	}

	c.EnableProfiling = args.EnableProfiling
}

// Load the application configuration
// Reads in the configFile when available and overrides from environment variables.
func Load(args *model.Args) (*Configuration, error) {
	viperConfig := viper.New()
	viperConfig.SetConfigType("yaml")
	viperConfig.SetEnvPrefix(model.AppName)
	viperConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConfig.AutomaticEnv()

	if args.ConfigFile != "" {
		fh, err := os.Open(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(model.ErrConfig, err.Error())
		}
		defer fh.Close()

		if err = viperConfig.ReadConfig(fh); err != nil {
			return nil, errors.Wrap(model.ErrConfig, "ReadConfig error: "+err.Error())
		}
	}

	config := New()

	if err := config.envBindVars(viperConfig); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
	}

	if err := viperConfig.Unmarshal(config); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "Unmarshal error: "+err.Error())
	}

	config.LoadArgs(args)
	config.envVarAppOverrides(viperConfig)

	if err := config.validateSource(); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "source error: "+err.Error())
	}

	if err := config.envVarNotifyOverrides(viperConfig); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "notify env overrides error: "+err.Error())
	}

	return config, nil
}

func (c *Configuration) envVarAppOverrides(viperConfig *viper.Viper) {
	logLevel := viperConfig.GetString("log.level")
	if logLevel != "" {
		c.LogLevel = logLevel
	}

	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (c *Configuration) envBindVars(viperConfig *viper.Viper) error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(c, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten configuration")
	}

	for k := range flat {
		if err := viperConfig.BindEnv(k); err != nil {
			return errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

func (c *Configuration) validateSource() error {
	switch c.Source {
	case SourceSimulator:
		return nil
	case SourceFixture:
		if c.TopologyFile == "" {
			return errors.New("missing parameter: topology_file")
		}

		return nil
	default:
		return errors.New("unknown source: " + c.Source)
	}
}

// nolint:gocyclo // parameter validation is cyclomatic
func (c *Configuration) envVarNotifyOverrides(viperConfig *viper.Viper) error {
	if c.NotifyOptions == nil {
		c.NotifyOptions = &NotifyOptions{}
	}

	if viperConfig.GetString("notify.endpoint") != "" {
		c.NotifyOptions.Endpoint = viperConfig.GetString("notify.endpoint")
	}

	// reports are only logged without an endpoint
	if c.NotifyOptions.Endpoint == "" {
		return nil
	}

	// Validate endpoint
	if _, err := url.Parse(c.NotifyOptions.Endpoint); err != nil {
		return errors.New("notify endpoint URL error: " + err.Error())
	}

	if viperConfig.GetString("notify.disable.oauth") != "" {
		c.NotifyOptions.DisableOAuth = viperConfig.GetBool("notify.disable.oauth")
	}

	if c.NotifyOptions.DisableOAuth {
		return nil
	}

	if viperConfig.GetString("notify.oidc.issuer.endpoint") != "" {
		c.NotifyOptions.OidcIssuerEndpoint = viperConfig.GetString("notify.oidc.issuer.endpoint")
	}

	if c.NotifyOptions.OidcIssuerEndpoint == "" {
		return errors.New("notify oidc.issuer.endpoint not defined")
	}

	if viperConfig.GetString("notify.oidc.audience.endpoint") != "" {
		c.NotifyOptions.OidcAudienceEndpoint = viperConfig.GetString("notify.oidc.audience.endpoint")
	}

	if c.NotifyOptions.OidcAudienceEndpoint == "" {
		return errors.New("notify oidc.audience.endpoint not defined")
	}

	if viperConfig.GetString("notify.oidc.client.secret") != "" {
		c.NotifyOptions.OidcClientSecret = viperConfig.GetString("notify.oidc.client.secret")
	}

	if c.NotifyOptions.OidcClientSecret == "" {
		return errors.New("notify.oidc.client.secret not defined")
	}

	if viperConfig.GetString("notify.oidc.client.id") != "" {
		c.NotifyOptions.OidcClientID = viperConfig.GetString("notify.oidc.client.id")
	}

	if c.NotifyOptions.OidcClientID == "" {
		return errors.New("notify.oidc.client.id not defined")
	}

	if viperConfig.GetString("notify.oidc.client.scopes") != "" {
		c.NotifyOptions.OidcClientScopes = viperConfig.GetStringSlice("notify.oidc.client.scopes")
	}

	if len(c.NotifyOptions.OidcClientScopes) == 0 {
		return errors.New("notify oidc.client.scopes not defined")
	}

	return nil
}
