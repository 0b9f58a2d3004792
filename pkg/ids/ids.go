// Package ids defines the identifier types shared across the session core:
// opaque cluster member identifiers and monotonic session identifiers.
package ids

import "fmt"

// MemberID is the opaque stable identifier of a cluster node.
type MemberID string

// String implements fmt.Stringer.
func (m MemberID) String() string { return string(m) }

// SessionID is the monotonically unique identifier assigned to a session at
// open time. It doubles as the anchor value for eventIndex, completeIndex,
// and lastApplied (see session.Context), which is why it is a uint64 rather
// than an opaque string.
type SessionID uint64

// String implements fmt.Stringer.
func (s SessionID) String() string { return fmt.Sprintf("%d", uint64(s)) }
