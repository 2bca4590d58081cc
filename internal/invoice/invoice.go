// Package invoice issues sale invoice numbers. The format is
// INV-YYYYMMDD-XXXXXXXX where the suffix is the first eight hex characters
// of a random UUID, which keeps invoices sortable by day while staying
// collision-resistant across registers.
package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const prefix = "INV"

// New issues an invoice number for a sale finalized at the given time.
func New(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), strings.ToUpper(suffix))
}

// Valid reports whether a string looks like an invoice number issued by New.
func Valid(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != prefix {
		return false
	}
	if len(parts[1]) != 8 || len(parts[2]) != 8 {
		return false
	}
	if _, err := time.Parse("20060102", parts[1]); err != nil {
		return false
	}
	return true
}
