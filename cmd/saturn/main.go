// Saturn is a configurable rules and workflow engine for insurance
// decisioning.
//
// Institutions describe their decision logic as versioned rule sets and
// workflow definitions in JSON or YAML; Saturn evaluates rules against
// immutable fact contexts, drives workflow instances through their states,
// and dispatches entry actions to domain agents, delegated rule sets, and
// AI analysis tasks with bounded timeouts and retries. Every decision is
// retained as an append-only instance history.
//
// Usage:
//
//	# Start the engine with default configuration
//	saturn run
//
//	# Start with a custom configuration file
//	saturn run --config /etc/saturn/config.yaml
//
//	# Validate definition files without starting
//	saturn validate ./definitions
//
//	# Show version information
//	saturn version
package main

func main() {
	Execute()
}
