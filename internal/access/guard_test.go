package access

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quizhub/internal/domain"
)

func TestAvailabilityWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(time.Hour)
	until := now.Add(-time.Minute)

	if got := Availability(domain.Schedule{}, now); got != domain.AvailabilityOpen {
		t.Fatalf("no bounds should be open, got %s", got)
	}
	if got := Availability(domain.Schedule{AvailableFrom: &from}, now); got != domain.AvailabilityScheduled {
		t.Fatalf("future start should be scheduled, got %s", got)
	}
	if got := Availability(domain.Schedule{AvailableUntil: &until}, now); got != domain.AvailabilityClosed {
		t.Fatalf("past end should be closed, got %s", got)
	}
}

func TestCheckWindowReportsBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(2 * time.Hour)
	guard := NewGuardWithClock(NewBcryptHasher(bcrypt.MinCost), func() time.Time { return now })

	err := guard.CheckWindow(domain.Schedule{AvailableFrom: &from})
	var na *domain.NotAvailableError
	if !errors.As(err, &na) {
		t.Fatalf("expected NotAvailableError, got %v", err)
	}
	if na.Status != domain.AvailabilityScheduled || !na.AvailableFrom.Equal(from) {
		t.Fatalf("unexpected error detail %+v", na)
	}
	if !errors.Is(err, domain.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable kind")
	}
}

func TestAccessCode(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("open-sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	guard := NewGuard(hasher)
	cfg := domain.Access{AccessCodeRequired: true, AccessCodeHash: hash}

	if err := guard.CheckAccess(cfg, Request{AccessCode: "open-sesame"}); err != nil {
		t.Fatalf("expected valid code, got %v", err)
	}
	for _, code := range []string{"", "wrong"} {
		err := guard.CheckAccess(cfg, Request{AccessCode: code})
		if !errors.Is(err, domain.ErrInvalidAccessCode) || !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("code %q: expected invalid access code, got %v", code, err)
		}
	}
}

func TestIPAllowList(t *testing.T) {
	allow := []string{"10.0.0.0/8", "192.168.1.20", "2001:db8::/32"}

	cases := map[string]bool{
		"10.1.2.3":        true,
		"192.168.1.20":    true,
		"192.168.1.21":    false,
		"::ffff:10.9.9.9": true,
		"2001:db8::1":     true,
		"not-an-ip":       false,
		"":                false,
	}
	for ip, want := range cases {
		if got := IPAllowed(ip, allow); got != want {
			t.Fatalf("ip %q: expected %v, got %v", ip, want, got)
		}
	}

	guard := NewGuard(NewBcryptHasher(bcrypt.MinCost))
	err := guard.CheckAccess(domain.Access{IPRestricted: true, AllowedIPs: allow}, Request{IP: "8.8.8.8"})
	if !errors.Is(err, domain.ErrIPNotAllowed) {
		t.Fatalf("expected ip rejection, got %v", err)
	}
}

func TestValidateAllowList(t *testing.T) {
	if err := ValidateAllowList([]string{"1.2.3.4", "10.0.0.0/16"}); err != nil {
		t.Fatalf("expected valid list, got %v", err)
	}
	if err := ValidateAllowList([]string{"10.0.0.0/99"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
