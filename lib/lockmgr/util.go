package lockmgr

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a random session id
func NewSessionID() string {
	return uuid.NewString()
}

// newRequestID returns a random steal request id
func newRequestID() string {
	return uuid.NewString()
}

// seconds rounds a window up to whole seconds for countdown events
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
