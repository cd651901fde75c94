package testutil

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/karibu/core"
)

// NewConfig returns a minimal config suitable for tests.
func NewConfig() *core.Config {
	conf := &core.Config{
		TestMode:  true,
		Env:       "TEST",
		AppName:   "Karibu",
		SecretKey: "secret",
	}
	conf.Server.JWTExpirationDelta = 7 * 24 * time.Hour
	return conf
}

// JSONEqual compares two JSON documents structurally and reports a
// unified diff on mismatch.
func JSONEqual(t *testing.T, got, want []byte) {
	t.Helper()

	var j1, j2 interface{}
	if err := json.Unmarshal(got, &j1); err != nil {
		t.Fatalf("JSONEqual() failed to parse got: %v\n%s", err, got)
	}
	if err := json.Unmarshal(want, &j2); err != nil {
		t.Fatalf("JSONEqual() failed to parse want: %v\n%s", err, want)
	}
	if reflect.DeepEqual(j1, j2) {
		return
	}

	// top-level arrays compare order-insensitively
	if l1, ok := j1.([]interface{}); ok {
		if l2, ok := j2.([]interface{}); ok {
			if assert.ElementsMatch(t, l1, l2) {
				return
			}
		}
	}

	// normalize key order before diffing
	gotN, _ := json.MarshalIndent(j1, "", "  ")
	wantN, _ := json.MarshalIndent(j2, "", "  ")
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(wantN) + "\n"),
		B:        difflib.SplitLines(string(gotN) + "\n"),
		FromFile: "want",
		ToFile:   "got",
		Context:  3,
	})
	if err != nil {
		t.Fatalf("JSONEqual() failed to diff: %v", err)
	}
	t.Errorf("json mismatch:\n%s", diff)
}
