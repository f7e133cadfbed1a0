// Package commands defines the agentseal CLI.
//
// Commands
//
//   - keygen       Generate a hybrid identity key set and print fingerprints
//   - fingerprint  Print the fingerprint of a base58-encoded public key
//   - demo         Run a two-agent handshake and message exchange in-process
//
// The root command loads configuration (defaults, optionally layered with a
// yaml file via --config) before any subcommand runs.
package commands
