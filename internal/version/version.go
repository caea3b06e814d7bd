package version

// Current defines the agent version.
// It defaults to "dev" but is overwritten by the Makefile using -ldflags.
var Current = "dev"

const AppName = "piisentry-scanner"
