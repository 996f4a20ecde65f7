package commands

// CommonConfig contains configuration common to all commands
type CommonConfig struct {
	// DataDir is the path to the data directory
	DataDir string `help:"Path to data directory" default:"./data" env:"DATA_DIR"`
	// EnvDir is the directory searched for an optional .env file
	EnvDir string `help:"Directory containing an optional .env file" default:"."`
	// LogLevel is the logging level to use
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"info" enum:"debug,info,warn,error" env:"LOG_LEVEL"`
}
