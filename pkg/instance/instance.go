package instance

import "os"

// GetID identifies this process in logs. WORKER_ID wins so orchestrated
// replicas can be told apart; the hostname is good enough elsewhere.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
