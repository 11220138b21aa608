// Package instance names the running replica in logs.
package instance

import (
	"os"
	"strings"
)

const envInstanceID = "COURSEPAY_INSTANCE_ID"

// GetID prefers COURSEPAY_INSTANCE_ID, then the hostname (the pod name on
// Kubernetes), then a fixed fallback.
func GetID(fallback string) string {
	if id := strings.TrimSpace(os.Getenv(envInstanceID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
