package packrat

import "github.com/glebzlat/packrat-improved-lr/lexer"

// memoKey identifies one application of one rule at one point in the
// input. Grammar rules take no arguments; the args component keeps keys
// distinct for the parameterized terminal matchers, which are memoized
// through the same store.
type memoKey struct {
	rule int
	args string
	pos  lexer.Position
}

// Terminal matchers share this pseudo-rule identity and differ by args.
const termRule = -1

// Lifecycle states of a memo entry. An entry is created pending, and
// either resolves directly (no recursion observed) or is promoted to
// growing when a nested application of the same key is detected. A
// resolved entry is final and never re-entered.
type memoState int

const (
	statePending memoState = iota
	stateGrowing
	stateResolved
)

// memoEntry holds the last known result of a rule application and the
// position reached after producing it. A nil result is a failed match.
// While growing, result/end are the current best approximation and chain
// holds the rule's growable alternatives.
type memoEntry struct {
	state  memoState
	result *Node
	end    lexer.Position
	chain  []altRule

	// deferred marks a growing head whose application finished its seed
	// but left growth to an enclosing application of its group.
	deferred bool
}

// memoStore maps keys to entries. Entries are append-only except for the
// single pending -> growing -> resolved transition per key; parsing is
// single-threaded, so the transitions need no locking, only correct
// ordering relative to the recursive call stack.
type memoStore map[memoKey]*memoEntry

func (m memoStore) get(k memoKey) *memoEntry {
	return m[k]
}

func (m memoStore) put(k memoKey, e *memoEntry) {
	m[k] = e
}

// promote marks the entry for k as a growing head and attaches the
// rule's chain. Promoting an already growing entry is a no-op.
func (m memoStore) promote(k memoKey, chain []altRule) {
	e := m[k]
	if e.state == statePending {
		e.state = stateGrowing
		e.chain = chain
	}
}

// drop removes a provisional entry so the next growth pass re-evaluates
// it against the improved seeds.
func (m memoStore) drop(k memoKey) {
	delete(m, k)
}
