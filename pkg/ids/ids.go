// Package ids generates prefixed, K-sortable entity identifiers ("prefix_suffix").
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

const (
	PrefixWallet      Prefix = "wal"
	PrefixTransaction Prefix = "txn"
	PrefixCallSession Prefix = "cs"
	PrefixPayment     Prefix = "pay"
	PrefixAuditEvent  Prefix = "aud"
)

// New generates a new ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Reference builds a caller-visible reference such as CALL_1700000000000_9F0C...:
// a millisecond timestamp plus a random v4 UUID in upper-cased hex.
func Reference(kind string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s_%d_%s", kind, now.UnixMilli(), suffix)
}
