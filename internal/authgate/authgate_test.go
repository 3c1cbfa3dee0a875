package authgate

import (
	"testing"
	"time"
)

func TestDisabledGateAllowsAnyRequest(t *testing.T) {
	g := New("")
	if g.Enabled() {
		t.Fatalf("expected empty token to disable the gate")
	}
	if !g.Check("") {
		t.Fatalf("expected disabled gate to allow requests with no header")
	}
}

func TestEnabledGateRejectsMissingOrWrongToken(t *testing.T) {
	g := New("s3cret")
	if !g.Enabled() {
		t.Fatalf("expected configured token to enable the gate")
	}
	if g.Check("") {
		t.Fatalf("expected empty header to be rejected")
	}
	if g.Check("Bearer wrong") {
		t.Fatalf("expected wrong token to be rejected")
	}
	if !g.Check("Bearer s3cret") {
		t.Fatalf("expected correct token to be accepted")
	}
}

func TestIssuedJWTIsAcceptedAndWrongSecretIsNot(t *testing.T) {
	g := New("s3cret")
	tok, err := g.IssueToken(time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !g.Check("Bearer " + tok) {
		t.Fatalf("expected issued JWT to be accepted")
	}

	other := New("different-secret")
	if other.Check("Bearer " + tok) {
		t.Fatalf("expected JWT signed with a different secret to be rejected")
	}
}

func TestExpiredJWTIsRejected(t *testing.T) {
	g := New("s3cret")
	tok, err := g.IssueToken(-time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if g.Check("Bearer " + tok) {
		t.Fatalf("expected expired JWT to be rejected")
	}
}
