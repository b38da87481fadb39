// Package policy contains domain types for access and spending enforcement.
package policy

import (
	"time"
)

// CurrentVersion is the policy document format version this build understands.
const CurrentVersion = "1"

// Field identifies a request attribute that list rules can match against.
type Field string

const (
	// FieldAgentID matches the client's declared agent identifier.
	FieldAgentID Field = "agent_id"
	// FieldWalletAddress matches the client's payment wallet address.
	FieldWalletAddress Field = "wallet_address"
	// FieldIPAddress matches the client's source IP address.
	FieldIPAddress Field = "ip_address"
)

// KnownFields lists every field a list rule may reference, in declaration order.
var KnownFields = []Field{FieldAgentID, FieldWalletAddress, FieldIPAddress}

// RuleType tags the variant of a Rule.
type RuleType string

const (
	// RuleTypeAllowlist restricts an attribute to an explicit value set.
	RuleTypeAllowlist RuleType = "allowlist"
	// RuleTypeDenylist blocks requests whose attribute matches a value set.
	RuleTypeDenylist RuleType = "denylist"
	// RuleTypeRateLimit caps request count inside a sliding window.
	RuleTypeRateLimit RuleType = "rate_limit"
	// RuleTypeSpendingCap caps accumulated spend inside a fixed window.
	RuleTypeSpendingCap RuleType = "spending_cap"
)

// Rule is one enforcement unit. The variant set is closed: Allowlist,
// Denylist, RateLimit, and SpendingCap are the only implementations.
type Rule interface {
	// Type returns the variant tag for this rule.
	Type() RuleType

	sealed()
}

// Allowlist permits only the listed values (or trailing-* patterns) for a field.
type Allowlist struct {
	// Field is the request attribute the list applies to.
	Field Field
	// Values are literal strings or wildcard patterns with a trailing '*'.
	Values []string
}

// Denylist blocks the listed values (or trailing-* patterns) for a field.
type Denylist struct {
	// Field is the request attribute the list applies to.
	Field Field
	// Values are literal strings or wildcard patterns with a trailing '*'.
	Values []string
}

// RateLimit caps how many requests a subject may make inside a sliding window.
type RateLimit struct {
	// MaxRequests is the maximum request count per window. Must be >= 1.
	MaxRequests uint64
	// WindowSeconds is the sliding window length. Must be in [1, 31536000].
	WindowSeconds uint64
}

// SpendingCap caps how much a subject may spend inside a fixed window.
type SpendingCap struct {
	// MaxAmount is the spend ceiling per window. Must be > 0.
	MaxAmount float64
	// Currency labels the amount (e.g. "USD"). Informational; no conversion
	// is attempted, estimated costs are assumed to be in this currency.
	Currency string
	// WindowSeconds is the accounting window length. Must be in [1, 31536000].
	WindowSeconds uint64
}

func (Allowlist) Type() RuleType   { return RuleTypeAllowlist }
func (Denylist) Type() RuleType    { return RuleTypeDenylist }
func (RateLimit) Type() RuleType   { return RuleTypeRateLimit }
func (SpendingCap) Type() RuleType { return RuleTypeSpendingCap }

func (Allowlist) sealed()   {}
func (Denylist) sealed()    {}
func (RateLimit) sealed()   {}
func (SpendingCap) sealed() {}

// Window returns the rule's sliding window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Window returns the rule's accounting window as a duration.
func (r SpendingCap) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Policy is an ordered, non-empty sequence of rules plus a format version.
// Order is preserved for auditability; evaluation precedence is fixed and
// does not depend on it.
type Policy struct {
	// Version is the document format version.
	Version string
	// Rules are the enforcement rules in declaration order.
	Rules []Rule
}

// Request describes one inbound request for evaluation. Attribute fields are
// optional; empty means the caller did not present that attribute.
type Request struct {
	// AgentID is the client's declared agent identifier.
	AgentID string
	// WalletAddress is the client's payment wallet address.
	WalletAddress string
	// IPAddress is the client's source IP.
	IPAddress string
	// EstimatedCost is the price of the protected action. Zero for free
	// resources.
	EstimatedCost float64
	// Timestamp is when the request arrived. Zero means time.Now().
	Timestamp time.Time
}

// Attribute returns the request value for a list rule field. Empty when the
// caller did not present that attribute.
func (r Request) Attribute(f Field) string {
	switch f {
	case FieldAgentID:
		return r.AgentID
	case FieldWalletAddress:
		return r.WalletAddress
	case FieldIPAddress:
		return r.IPAddress
	}
	return ""
}

// AnonymousSubject is the state key subject used when a request presents no
// identifying attribute at all.
const AnonymousSubject = "anonymous"

// Subject returns the identity used to key rate-limit and spending state:
// agent_id when present, else wallet_address, else ip_address, else
// AnonymousSubject.
func (r Request) Subject() string {
	switch {
	case r.AgentID != "":
		return r.AgentID
	case r.WalletAddress != "":
		return r.WalletAddress
	case r.IPAddress != "":
		return r.IPAddress
	}
	return AnonymousSubject
}

// Time returns the request timestamp, defaulting to now when unset.
func (r Request) Time() time.Time {
	if r.Timestamp.IsZero() {
		return time.Now()
	}
	return r.Timestamp
}
