// Package access decides whether an actor may start an attempt.
package access

import (
	"net/netip"
	"strings"
	"time"

	"quizhub/internal/domain"
)

// Hasher is the one-way hashing primitive used for access codes.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// Request is what the actor presents when starting an attempt.
type Request struct {
	IP         string
	AccessCode string
}

// Guard evaluates a quiz's schedule and restrictions.
type Guard struct {
	hasher Hasher
	now    func() time.Time
}

func NewGuard(hasher Hasher) *Guard {
	return NewGuardWithClock(hasher, time.Now)
}

// NewGuardWithClock allows deterministic timestamps in tests.
func NewGuardWithClock(hasher Hasher, now func() time.Time) *Guard {
	return &Guard{hasher: hasher, now: now}
}

// Availability places now relative to the schedule.
func Availability(schedule domain.Schedule, now time.Time) domain.Availability {
	if schedule.AvailableFrom != nil && now.Before(*schedule.AvailableFrom) {
		return domain.AvailabilityScheduled
	}
	if schedule.AvailableUntil != nil && !now.Before(*schedule.AvailableUntil) {
		return domain.AvailabilityClosed
	}
	return domain.AvailabilityOpen
}

// CheckWindow fails with a *domain.NotAvailableError unless the schedule is open.
func (g *Guard) CheckWindow(schedule domain.Schedule) error {
	status := Availability(schedule, g.now())
	if status == domain.AvailabilityOpen {
		return nil
	}
	return &domain.NotAvailableError{
		Status:         status,
		AvailableFrom:  schedule.AvailableFrom,
		AvailableUntil: schedule.AvailableUntil,
	}
}

// CheckAccess verifies the access code and IP allow-list configured on the draft.
func (g *Guard) CheckAccess(cfg domain.Access, req Request) error {
	if cfg.AccessCodeRequired {
		code := strings.TrimSpace(req.AccessCode)
		if code == "" || cfg.AccessCodeHash == "" || !g.hasher.Verify(code, cfg.AccessCodeHash) {
			return domain.ErrInvalidAccessCode
		}
	}
	if cfg.IPRestricted && !IPAllowed(req.IP, cfg.AllowedIPs) {
		return domain.ErrIPNotAllowed
	}
	return nil
}

// IPAllowed matches ip against exact addresses and CIDR ranges.
// IPv4-mapped IPv6 addresses match their IPv4 entries.
func IPAllowed(ip string, allowList []string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowList {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

// ValidateAllowList rejects entries that are neither an address nor a CIDR range.
func ValidateAllowList(entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		var err error
		if strings.Contains(entry, "/") {
			_, err = netip.ParsePrefix(entry)
		} else {
			_, err = netip.ParseAddr(entry)
		}
		if err != nil {
			return &domain.ValidationError{Field: "allowedIps", Reason: "invalid entry " + entry}
		}
	}
	return nil
}
