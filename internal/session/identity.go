package session

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// InstanceID returns a stable per-host id for app, or a random one when the
// machine id is unavailable.
func InstanceID(app string) string {
	if id, err := machineid.ProtectedID(app); err == nil && id != "" {
		return id[:16]
	}
	return uuid.NewString()
}
