package instance

import (
	"fmt"
	"os"
)

// GetID identifies this process in logs and lease owners. BRANDPULSE_INSTANCE_ID
// wins, then the platform dyno name, then hostname and pid.
func GetID() string {
	for _, key := range []string{"BRANDPULSE_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
