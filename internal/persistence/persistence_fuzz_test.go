package persistence

import "testing"

// FuzzDecodeSnapshot feeds arbitrary bytes into the snapshot decoder —
// process.dump is read back on every daemon boot, so malformed or truncated
// content must produce an error, never a panic.
func FuzzDecodeSnapshot(f *testing.F) {
	f.Add([]byte(`{"v":1,"entries":[]}`))
	f.Add([]byte(`{"v":1,"entries":[{"spec":{"Name":"web","Script":"sleep 1"},"state":"running"}]}`))
	f.Add([]byte(`{"v":1,"entries":[{"spec":{"Name":"","Script":""},"state":"bogus"}]}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte(`{`))
	f.Add([]byte(``))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"v":1,"entries":null}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		snap, errs, err := decodeSnapshot(data)
		if err != nil {
			return
		}
		if len(errs) > len(snap.Entries)+len(errs) {
			t.Fatalf("impossible error count for %d surviving entries", len(snap.Entries))
		}
		for _, e := range snap.Entries {
			if err := e.Spec.Validate(); err != nil {
				t.Fatalf("decodeSnapshot returned an invalid entry: %v", err)
			}
		}
	})
}
