package instance

import "os"

// GetID returns the process instance identifier from STOREFRONT_INSTANCE_ID,
// falling back to the hostname and then a fixed default.
func GetID() string {
	if id := os.Getenv("STOREFRONT_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
