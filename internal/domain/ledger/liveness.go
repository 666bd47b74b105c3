package ledger

import "time"

// Liveness describes how long a session has left before it expires.
type Liveness struct {
	RemainingSeconds int  `json:"remainingSeconds"`
	IsExpired        bool `json:"isExpired"`
}

// Status computes liveness from the ledger's last activity. It has no side effects.
func Status(l *Ledger, ttl time.Duration, now time.Time) Liveness {
	elapsed := int(now.Sub(l.LastActivity) / time.Second)
	remaining := int(ttl/time.Second) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Liveness{
		RemainingSeconds: remaining,
		IsExpired:        remaining <= 0,
	}
}
