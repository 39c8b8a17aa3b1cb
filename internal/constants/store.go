package constants

// Ordering of the action history.
type Ordering string

const (
	AscendingOrdering  Ordering = "asc"
	DescendingOrdering Ordering = "desc"
	DefaultOrdering    Ordering = DescendingOrdering
)

// Scopes partition persisted cookies and tag journal rows with the
// identity that made them.
const (
	UserScope  = "user"
	AdminScope = "admin"
)

// DefaultHistoryLimit caps `history` output when no limit is given.
const DefaultHistoryLimit = 50
