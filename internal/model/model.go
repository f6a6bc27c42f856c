package model

const (
	AppName = "rackstab"
)

// Args are the command line flags shared by every command.
type Args struct {
	// LogLevel is the log level for the process, one of debug, trace, info.
	LogLevel string
	// ConfigFile is the configuration file path.
	ConfigFile string
	// Agent is the kind of agent whose resources are stabilized.
	Agent string
	// TopologyFile overrides the configured fixture file.
	TopologyFile string

	EnableProfiling bool
}
