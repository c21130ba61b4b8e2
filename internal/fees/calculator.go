// Package fees computes platform fees in integer minor currency units.
package fees

import "fmt"

// Breakdown is the result of applying a percentage fee to an amount
type Breakdown struct {
	AmountCents int64 `json:"amount"`
	FeeCents    int64 `json:"fee"`
	NetCents    int64 `json:"net_amount"`
	Percentage  int64 `json:"percentage"`
}

// Calculate returns fee = floor(amount * percentage / 100) and net = amount - fee.
// The product is split so it cannot overflow int64 for any valid amount.
func Calculate(amountCents, percentage int64) (Breakdown, error) {
	if amountCents < 0 {
		return Breakdown{}, fmt.Errorf("amount must not be negative: %d", amountCents)
	}
	if percentage < 0 || percentage > 100 {
		return Breakdown{}, fmt.Errorf("fee percentage must be between 0 and 100: %d", percentage)
	}

	fee := (amountCents/100)*percentage + (amountCents%100)*percentage/100
	return Breakdown{
		AmountCents: amountCents,
		FeeCents:    fee,
		NetCents:    amountCents - fee,
		Percentage:  percentage,
	}, nil
}

// Schedule maps a payment kind to its configured percentage
type Schedule struct {
	DonationPercentage int64
	PlatformPercentage int64
}

func (s Schedule) PercentageFor(kind string) int64 {
	if kind == "platform_payment" {
		return s.PlatformPercentage
	}
	return s.DonationPercentage
}
