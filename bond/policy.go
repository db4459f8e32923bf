package bond

// Policy is the closed set of send-path selection strategies a Bond can
// run. It is a tagged variant, not an interface — dispatch happens in a
// switch, since the set of strategies is fixed and known at compile time.
type Policy int

const (
	PolicyActiveBackup Policy = iota
	PolicyBroadcast
	PolicyBalanceRR
	PolicyBalanceXOR
	PolicyBalanceAware
)

func (p Policy) String() string {
	switch p {
	case PolicyActiveBackup:
		return "active-backup"
	case PolicyBroadcast:
		return "broadcast"
	case PolicyBalanceRR:
		return "balance-rr"
	case PolicyBalanceXOR:
		return "balance-xor"
	case PolicyBalanceAware:
		return "balance-aware"
	default:
		return "unknown"
	}
}

// UsesFlowHashing reports whether flows are pinned to paths under this
// policy, and therefore whether flow reallocation on eligibility loss
// applies.
func (p Policy) UsesFlowHashing() bool {
	return p == PolicyBalanceXOR || p == PolicyBalanceAware
}

// RequiresUniformHealth reports whether this policy needs every link alive
// to consider the bond healthy (balance policies), as opposed to active-
// backup's "at least 2 alive" or broadcast's "at least 1 alive".
func (p Policy) RequiresUniformHealth() bool {
	return p == PolicyBalanceRR || p == PolicyBalanceXOR || p == PolicyBalanceAware
}

// ABLinkSelectMethod is the active-backup re-selection strategy.
type ABLinkSelectMethod int

const (
	ABSelectAlways ABLinkSelectMethod = iota
	ABSelectBetter
	ABSelectFailure
	ABSelectOptimize
)

func (m ABLinkSelectMethod) String() string {
	switch m {
	case ABSelectAlways:
		return "always"
	case ABSelectBetter:
		return "better"
	case ABSelectFailure:
		return "failure"
	case ABSelectOptimize:
		return "optimize"
	default:
		return "unknown"
	}
}
