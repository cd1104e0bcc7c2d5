package models

import "time"

// Voucher is a single-use registration invitation. Lifecycle: issued, then
// either redeemed (terminal, sets RedeemedBy/RedeemedAt) or expired
// (terminal, purely time-gated).
type Voucher struct {
	Code       string
	IssuerID   string
	RedeemedBy *string
	RedeemedAt *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Redeemed reports whether the voucher has already been used.
func (v *Voucher) Redeemed() bool { return v.RedeemedBy != nil }

// Expired reports whether the voucher's validity window has passed.
func (v *Voucher) Expired(now time.Time) bool { return now.After(v.ExpiresAt) }
