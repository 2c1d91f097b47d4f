package sdk

import (
	"time"

	"github.com/HerbHall/camlink/internal/strategy"
)

// Handle is a logged-in vendor SDK session. Serial and firmware are
// placeholders until a native SDK is bound.
type Handle struct {
	ID           string
	Serial       string
	Firmware     string
	Capabilities []string
	LoggedInAt   time.Time
}

// Cache maps device cache keys to live handles. There is at most one handle
// per key.
type Cache = strategy.Cache[*Handle]

// NewCache returns an empty handle cache.
func NewCache() *Cache {
	return strategy.NewCache[*Handle]()
}
