// Package main provides a lightweight health check utility for Docker containers.
// It is statically compiled for minimal environments like scratch-based images
// where wget and curl are unavailable.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	defaultPort    = "3001"
	requestTimeout = 5 * time.Second
	exitSuccess    = 0
	exitFailure    = 1
)

// buildHealthURL constructs the local health endpoint URL. 127.0.0.1 instead
// of localhost keeps this working in scratch images without /etc/hosts.
func buildHealthURL(port string) string {
	return fmt.Sprintf("http://127.0.0.1:%s/health", port)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	healthURL := buildHealthURL(port)

	client := &http.Client{
		Timeout: requestTimeout,
	}

	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(exitFailure)
	}
	// Close immediately; defer won't run past os.Exit.
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check returned non-OK status: %d\n", resp.StatusCode)
		os.Exit(exitFailure)
	}

	os.Exit(exitSuccess)
}
