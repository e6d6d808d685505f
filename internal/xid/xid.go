package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reference builds a human-readable ledger reference such as
// CAP-20240501-1f0c9a2b.
func Reference(prefix string, at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(prefix), at.UTC().Format("20060102"), id[:8])
}
