package model

// NodeID identifies a network participant independently of its transport address.
type NodeID string

const (
	// ZeroNode addresses nobody.
	ZeroNode NodeID = ""
	// BroadcastNode addresses every live connection.
	BroadcastNode NodeID = "*"
)

// IsZero reports whether the id is the reserved empty recipient.
func (n NodeID) IsZero() bool { return n == ZeroNode }

// IsBroadcast reports whether the id is the reserved broadcast recipient.
func (n NodeID) IsBroadcast() bool { return n == BroadcastNode }

func (n NodeID) String() string { return string(n) }
