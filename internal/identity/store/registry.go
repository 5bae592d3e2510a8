package store

// OwnedTable declares one foreign-key column that references users(id).
// Ownership reassignment during a merge walks this list and nothing
// else: adding a new owned table to the schema is a one-line
// registration here, never a new hand-written UPDATE in merge code.
type OwnedTable struct {
	Table  string
	Column string
}

// ownedTables is the authoritative list of every table that references
// a user. Identities are handled separately because moving them needs
// the (provider, provider_user_id) conflict guard.
var ownedTables = []OwnedTable{
	{Table: "posts", Column: "user_id"},
	{Table: "post_likes", Column: "user_id"},
	{Table: "chat_connections", Column: "sender_id"},
	{Table: "chat_connections", Column: "receiver_id"},
	{Table: "chat_messages", Column: "sender_id"},
	{Table: "subscriptions", Column: "user_id"},
	{Table: "activity_logs", Column: "user_id"},
	{Table: "credentials", Column: "user_id"},
}

// OwnedTables exposes a copy of the registry for diagnostics.
func OwnedTables() []OwnedTable {
	out := make([]OwnedTable, len(ownedTables))
	copy(out, ownedTables)
	return out
}
