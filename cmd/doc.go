// Package cmd implements the command-line interface of dEdit. It provides a
// hierarchical command structure for running the coordination server and
// talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the dEdit server
//   - session: Interactive edit session on a single document (steal, accept, collab, ...)
//   - bench: Load generator measuring connect and hand-over latencies
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable DEDIT_<FLAG>, .env and
// .env.local files in the working directory are loaded on start.
//
// See dedit -help for a list of all commands.
package cmd
