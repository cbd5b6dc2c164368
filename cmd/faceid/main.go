// Package main provides the faceid CLI tool.
//
// Usage:
//
//	faceid [flags] <command> [args]
//
// Commands:
//
//	enroll     - Enroll an identity from a capture script
//	match      - Match a query descriptor against the gallery
//	identities - List, inspect, and delete enrolled identities
//	export     - Export the gallery to a file or s3:// target
//	import     - Import a gallery document from a file or s3:// source
//	audit      - Report likely duplicate enrollments
//	index      - Build and inspect persisted vector index files
//	serve      - Run the websocket capture gateway
//	config     - Configuration management
//	version    - Show version information
//
// Configuration:
//
//	The CLI stores configuration in ~/.faceid/faceid/
//	Use 'faceid config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/faceid/go/cmd/faceid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
