// Command otlp-demo emits traces, metrics and logs from a small demo workload
// to an OTLP collector, then flushes and shuts the pipeline down.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
