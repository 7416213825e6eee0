package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeMember AccountScope = iota
	AccountScopeAggregate
)

// AggregateKind identifies one of the pseudo-balances that close the
// zero-sum circle around member accounts.
type AggregateKind uint8

const (
	AggregateExport AggregateKind = iota
	AggregateImport
	AggregateSettled
)

// AccountKey is the in-memory key for balance tracking (18 bytes, cache-friendly)
type AccountKey struct {
	Scope AccountScope
	Addr  [16]byte // member UUID, zero for aggregates
	Kind  AggregateKind
}

// NewMemberAccountKey creates a key for a member cash account
func NewMemberAccountKey(addr uuid.UUID) AccountKey {
	return AccountKey{
		Scope: AccountScopeMember,
		Addr:  addr,
	}
}

// NewAggregateAccountKey creates a key for one of the aggregate pseudo-balances
func NewAggregateAccountKey(kind AggregateKind) AccountKey {
	return AccountKey{
		Scope: AccountScopeAggregate,
		Kind:  kind,
	}
}

// MemberAddr returns the member UUID for member-scoped keys
func (k AccountKey) MemberAddr() uuid.UUID {
	return uuid.UUID(k.Addr)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeMember:
		return fmt.Sprintf("member:%s", uuid.UUID(k.Addr).String())
	case AccountScopeAggregate:
		return fmt.Sprintf("aggregate:%s", k.kindName())
	}
	return "unknown"
}

func (k AccountKey) kindName() string {
	switch k.Kind {
	case AggregateExport:
		return "export"
	case AggregateImport:
		return "import"
	case AggregateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath, used when restoring
// balances from a snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	var kind string
	if _, err := fmt.Sscanf(path, "aggregate:%s", &kind); err == nil {
		switch kind {
		case "export":
			return NewAggregateAccountKey(AggregateExport), nil
		case "import":
			return NewAggregateAccountKey(AggregateImport), nil
		case "settled":
			return NewAggregateAccountKey(AggregateSettled), nil
		}
		return AccountKey{}, fmt.Errorf("unknown aggregate kind: %q", kind)
	}

	var addrStr string
	if _, err := fmt.Sscanf(path, "member:%s", &addrStr); err == nil {
		addr, err := uuid.Parse(addrStr)
		if err != nil {
			return AccountKey{}, fmt.Errorf("invalid member address in %q: %w", path, err)
		}
		return NewMemberAccountKey(addr), nil
	}

	return AccountKey{}, fmt.Errorf("unparseable account path: %q", path)
}
