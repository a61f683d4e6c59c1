package tenant

import (
	"context"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"demo":     "DEMO",
		" Demo  ":  "DEMO",
		"TENANT1":  "TENANT1",
		"t-enant_": "T-ENANT_",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "demo")

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("tenant not found on context")
	}
	if got != "DEMO" {
		t.Errorf("expected normalized key DEMO, got %q", got)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should not carry a tenant")
	}
}

func TestUserDefaultsToSystem(t *testing.T) {
	if got := UserFromContext(context.Background()); got != "system" {
		t.Errorf("expected system, got %q", got)
	}
	ctx := WithUser(context.Background(), "admin")
	if got := UserFromContext(ctx); got != "admin" {
		t.Errorf("expected admin, got %q", got)
	}
}
