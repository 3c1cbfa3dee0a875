package main

import "testing"

func TestJoinArgsRejoinsWithSpaces(t *testing.T) {
	got := joinArgs([]string{"/bin/sh", "-c", "echo hi"})
	want := "/bin/sh -c echo hi"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveClientFallsBackToLocalhostWithNoServersFile(t *testing.T) {
	c, err := resolveClient("")
	if err != nil {
		t.Fatalf("resolveClient: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a client")
	}
}
