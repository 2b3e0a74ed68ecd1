// Package tabid generates the process-lifetime tab identity used to detect
// and ignore a tab's own cross-tab notifications. It carries no authority.
package tabid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

var current = sync.OnceValue(generate)

// Current returns this tab's identity. Computed once at first use and
// immutable for the life of the process.
func Current() string {
	return current()
}

func generate() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// Fall back to a clock-only identity; uniqueness across tabs is
		// still overwhelmingly likely at nanosecond resolution.
		return fmt.Sprintf("tab-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("tab-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
