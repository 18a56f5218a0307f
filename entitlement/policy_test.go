package entitlement_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/entitlement-engine/entitlement"
)

func TestDefaultPolicy_DocumentedWindows(t *testing.T) {
	p := entitlement.DefaultPolicy()

	if p.ExpirationDays() != 450 {
		t.Errorf("expiration = %d days, want 450", p.ExpirationDays())
	}
	if p.RefundDays() != 60 {
		t.Errorf("refund = %d days, want 60", p.RefundDays())
	}
	if p.RegainDays() != 14 {
		t.Errorf("regain = %d days, want 14", p.RegainDays())
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}
}

func TestPolicy_Validate_RejectsNegativeDurations(t *testing.T) {
	cases := []struct {
		name   string
		policy entitlement.Policy
	}{
		{"negative expiration", entitlement.Policy{ExpirationPeriod: -time.Hour}},
		{"negative refund", entitlement.Policy{RefundPeriod: -time.Hour}},
		{"negative regain", entitlement.Policy{RegainPeriod: -time.Hour}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, entitlement.ErrInvalidPolicy) {
				t.Errorf("error should wrap ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestEffectivePolicy_FallsBackToDefault(t *testing.T) {
	e := &entitlement.Entitlement{}

	if got := e.EffectivePolicy(); got != entitlement.DefaultPolicy() {
		t.Errorf("detached entitlement should use the default policy, got %+v", got)
	}

	custom := entitlement.Policy{
		ExpirationPeriod: 30 * 24 * time.Hour,
		RefundPeriod:     5 * 24 * time.Hour,
		RegainPeriod:     2 * 24 * time.Hour,
		Site:             "acme",
	}
	e.Policy = &custom
	if got := e.EffectivePolicy(); got != custom {
		t.Errorf("attached policy should win, got %+v", got)
	}
}

func TestSupportAction_Enumeration(t *testing.T) {
	if !entitlement.SupportReissue.Valid() || !entitlement.SupportCreate.Valid() {
		t.Error("enumerated actions should be valid")
	}
	if entitlement.SupportAction("DELETE").Valid() {
		t.Error("unknown action should be invalid")
	}

	a := entitlement.SupportAnnotation{Action: "bogus"}
	if err := a.Validate(); !errors.Is(err, entitlement.ErrInvalidSupportAction) {
		t.Errorf("expected ErrInvalidSupportAction, got %v", err)
	}

	if got := len(entitlement.ListSupportActions()); got != 2 {
		t.Errorf("expected 2 support actions, got %d", got)
	}
}
