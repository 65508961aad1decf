// Package app contains the application wiring. It turns a validated Config
// into a run: it loads the configuration directory, builds the registry,
// starts the optional status server and event publishers, and hands control
// to the orchestrator. It is decoupled from any specific entrypoint.
package app
