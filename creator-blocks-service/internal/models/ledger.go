package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PromotionalCredit is a time-limited free-block grant issued on scheduled
// calendar events. It is usable only while now < ExpiresAt.
type PromotionalCredit struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Blocks    int64     `json:"blocks" db:"blocks"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Active reports whether the credit is usable at the given time.
func (c *PromotionalCredit) Active(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// Ledger is the per-creator source of truth for storage-block quota.
// All mutation goes through its methods; AvailableBlocks never goes
// negative after any of them.
type Ledger struct {
	ID             uuid.UUID           `json:"id" db:"id"`
	CreatorID      string              `json:"creator_id" db:"creator_id"`
	TotalBlocks    int64               `json:"total_blocks" db:"total_blocks"`
	UsedBlocks     int64               `json:"used_blocks" db:"used_blocks"`
	ReservedBlocks int64               `json:"reserved_blocks" db:"reserved_blocks"`
	JoinedAt       time.Time           `json:"joined_at" db:"joined_at"`
	GraceEnd       time.Time           `json:"grace_end" db:"grace_end"`
	Credits        []PromotionalCredit `json:"promotional_credits"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// AvailableBlocks returns the blocks free for new reservations.
func (l *Ledger) AvailableBlocks() int64 {
	return l.TotalBlocks - l.UsedBlocks - l.ReservedBlocks
}

// InGrace reports whether the creator is inside the post-approval grace
// window at the given time.
func (l *Ledger) InGrace(now time.Time) bool {
	return now.Before(l.GraceEnd)
}

// Credit adds purchased or granted blocks to total capacity.
func (l *Ledger) Credit(blocks int64) {
	if blocks <= 0 {
		return
	}
	l.TotalBlocks += blocks
	l.UpdatedAt = time.Now().UTC()
}

// Reserve places a provisional hold on available capacity.
func (l *Ledger) Reserve(blocks int64) error {
	if blocks <= 0 {
		return ErrInvalidBlockCount
	}
	if l.AvailableBlocks() < blocks {
		return ErrInsufficientBlocks
	}
	l.ReservedBlocks += blocks
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// Release returns reserved blocks to available capacity. Floored at zero
// so a defensive double-release cannot corrupt the ledger.
func (l *Ledger) Release(blocks int64) {
	l.ReservedBlocks -= blocks
	if l.ReservedBlocks < 0 {
		l.ReservedBlocks = 0
	}
	l.UpdatedAt = time.Now().UTC()
}

// CommitUsage converts a reservation into permanent usage. The surplus
// reserved - actual goes back to available. If actual exceeds reserved
// the ledger is left unchanged and the caller must reserve more first.
func (l *Ledger) CommitUsage(reserved, actual int64) error {
	if actual > reserved {
		return ErrShortfallOnFinalize
	}
	l.ReservedBlocks -= reserved
	if l.ReservedBlocks < 0 {
		l.ReservedBlocks = 0
	}
	l.UsedBlocks += actual
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// ActiveCredits returns the unexpired promotional credits ordered
// soonest-expiring first.
func (l *Ledger) ActiveCredits(now time.Time) []PromotionalCredit {
	active := make([]PromotionalCredit, 0, len(l.Credits))
	for _, c := range l.Credits {
		if c.Active(now) {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ExpiresAt.Before(active[j].ExpiresAt)
	})
	return active
}

// ConsumeCredit removes a specific promotional credit. It reports whether
// the credit was present.
func (l *Ledger) ConsumeCredit(creditID uuid.UUID) bool {
	for i, c := range l.Credits {
		if c.ID == creditID {
			l.Credits = append(l.Credits[:i], l.Credits[i+1:]...)
			l.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// ConsumeActiveCredit removes a specific promotional credit only if it is
// still usable at the given time. It reports whether the credit was
// consumed; an expired or already-consumed credit returns false and the
// ledger is left unchanged.
func (l *Ledger) ConsumeActiveCredit(creditID uuid.UUID, now time.Time) bool {
	for i, c := range l.Credits {
		if c.ID == creditID {
			if !c.Active(now) {
				return false
			}
			l.Credits = append(l.Credits[:i], l.Credits[i+1:]...)
			l.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// ExpireCredits drops all credits expired at the given time and returns
// how many were removed.
func (l *Ledger) ExpireCredits(now time.Time) int {
	kept := l.Credits[:0]
	removed := 0
	for _, c := range l.Credits {
		if c.Active(now) {
			kept = append(kept, c)
		} else {
			removed++
		}
	}
	l.Credits = kept
	if removed > 0 {
		l.UpdatedAt = time.Now().UTC()
	}
	return removed
}

// Clone returns a deep copy of the ledger. Stores hand copies to
// transaction callbacks so a failed callback cannot leak partial state.
func (l *Ledger) Clone() *Ledger {
	cp := *l
	cp.Credits = make([]PromotionalCredit, len(l.Credits))
	copy(cp.Credits, l.Credits)
	return &cp
}

// LedgerSummary is the read-model returned by the creator-blocks API.
type LedgerSummary struct {
	CreatorID       string `json:"creator_id"`
	TotalBlocks     int64  `json:"total_blocks"`
	UsedBlocks      int64  `json:"used_blocks"`
	ReservedBlocks  int64  `json:"reserved_blocks"`
	AvailableBlocks int64  `json:"available_blocks"`
	InGrace         bool   `json:"in_grace"`
	ActiveCredits   int    `json:"active_credits"`
	CanUpload       bool   `json:"can_upload"`
}
