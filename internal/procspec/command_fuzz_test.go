package procspec

import (
	"strings"
	"testing"
)

// FuzzTokenize feeds arbitrary script text through tokenize, which runs on
// every BuildCommand call for specs with no explicit Shell — it must never
// panic, must produce no tokens for a blank script, and must never emit an
// empty token.
func FuzzTokenize(f *testing.F) {
	f.Add(`sleep 3600`)
	f.Add(`program --flag "quoted value"`)
	f.Add(`program 'single quoted'`)
	f.Add(`unterminated "quote`)
	f.Add(`unterminated 'quote`)
	f.Add("")
	f.Add("   ")
	f.Add(`"nested 'quotes' inside"`)
	f.Add("tabs\tand\tspaces")

	f.Fuzz(func(t *testing.T, script string) {
		parts := tokenize(script)
		if strings.TrimSpace(script) == "" && len(parts) != 0 {
			t.Fatalf("blank script produced tokens: %+v", parts)
		}
		for _, p := range parts {
			if p == "" {
				t.Fatalf("tokenize produced an empty token for input %q: %+v", script, parts)
			}
		}
	})
}
