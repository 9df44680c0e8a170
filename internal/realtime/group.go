package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the scope of a broadcast group.
type Kind string

const (
	KindThread    Kind = "thread"
	KindDashboard Kind = "dashboard"
)

// Group is a logical broadcast scope: one work thread's chat room or one
// user's dashboard. Groups exist only while they have members.
type Group struct {
	Kind Kind
	ID   int64
}

// ThreadGroup is the chat room of a work thread.
func ThreadGroup(threadID int64) Group {
	return Group{Kind: KindThread, ID: threadID}
}

// DashboardGroup is the dashboard channel of a user.
func DashboardGroup(userID int64) Group {
	return Group{Kind: KindDashboard, ID: userID}
}

func (g Group) IsZero() bool {
	return g == Group{}
}

func (g Group) String() string {
	return fmt.Sprintf("%s:%d", g.Kind, g.ID)
}

// ParseGroup is the inverse of Group.String.
func ParseGroup(s string) (Group, error) {
	kind, rawID, ok := strings.Cut(s, ":")
	if !ok {
		return Group{}, fmt.Errorf("malformed group %q", s)
	}
	switch Kind(kind) {
	case KindThread, KindDashboard:
	default:
		return Group{}, fmt.Errorf("unknown group kind %q", kind)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return Group{}, fmt.Errorf("malformed group id %q", rawID)
	}
	return Group{Kind: Kind(kind), ID: id}, nil
}
