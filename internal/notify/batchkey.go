package notify

import "strings"

// Batch keys group related events into one digest section. The key is a
// plain concatenation, not a hash: two events collide only when recipient
// and logical context genuinely match.
const keySep = "|"

// Context is the logical origin of an event, e.g. {"audit-plan", "9"}.
type Context struct {
	Type string
	ID   string
}

// BatchKey derives the grouping key for an event raised against a domain
// context. It is deterministic and total: empty context parts still yield
// a usable (recipient-scoped) key.
func BatchKey(recipientID string, ctx Context) string {
	return sanitize(recipientID) + keySep + sanitize(ctx.Type) + keySep + sanitize(ctx.ID)
}

// BulkImportKey scopes an entire batch import to one digest entry,
// regardless of how many individual events the import raised.
func BulkImportKey(recipientID, importID string) string {
	return BatchKey(recipientID, Context{Type: "import", ID: importID})
}

// sanitize keeps the separator out of key components so distinct contexts
// can never concatenate into the same key.
func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), keySep, "_")
}
