package app

// Flags holds the persistent command-line flags.
type Flags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
	NoColor    bool
	LogLevel   string
}
