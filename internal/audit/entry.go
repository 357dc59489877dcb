package audit

// Event names recorded by the workflow.
const (
	EventSubmitted    = "submitted"
	EventDecided      = "decided"
	EventResolved     = "resolved"
	EventEscalated    = "escalated"
	EventOverridden   = "overridden"
	EventUpdated      = "updated"
	EventDeleted      = "deleted"
	EventRulesChanged = "rules_changed"
)

// Amount is the money part of an entry, kept as strings so hashing is exact.
type Amount struct {
	Value     string `json:"value,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Converted string `json:"converted,omitempty"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string `json:"ts"`
	ExpenseID  string `json:"expense_id"`
	Event      string `json:"event"`
	Actor      string `json:"actor"`
	Decision   string `json:"decision,omitempty"`
	Status     string `json:"status"`
	Rule       string `json:"rule,omitempty"`
	Slot       int    `json:"slot,omitempty"`
	Amount     Amount `json:"amount"`
	Reason     string `json:"reason,omitempty"`
	PolicyHash string `json:"policy_hash"`
	PrevHash   string `json:"prev_hash"`
}

// Recorder accepts audit entries. *Log implements it.
type Recorder interface {
	Record(entry AuditEntry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(AuditEntry) error { return nil }
