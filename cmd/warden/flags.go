package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

type StartFlags struct {
	UseOSEnv bool
	EnvKVs   []string
	EnvFiles []string
	WorkDir  string
	// Wait is how long to watch the new daemon for an early exit.
	Wait time.Duration
}

type StopFlags struct {
	Grace time.Duration // 0 uses daemon.stop_grace
}

type StatusFlags struct {
	JSON       bool
	APITimeout time.Duration
}

type LogsFlags struct {
	Stderr bool
	Agent  bool // show warden.log instead of the daemon's stdout
	Lines  int
	Follow bool
}

type HistoryFlags struct {
	Limit int
	JSON  bool
}
