// Package instance identifies the running worker process in log fields.
package instance

import "os"

const fallbackID = "worker-0"

// GetID reads the WORKER_ID environment variable, falling back to a fixed
// default for single-instance deployments.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return fallbackID
}
