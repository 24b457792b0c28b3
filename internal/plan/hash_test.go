package plan

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) *Plan {
	t.Helper()
	p, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

const basePlan = `{
  "version": 1,
  "tool_calls": [
    {"id": "1", "tool": "fs.read_text", "args": {"path": "/tmp/a.txt", "max_bytes": 4096}}
  ]
}`

func TestHash_IgnoresHashAndApprovalFields(t *testing.T) {
	plain := mustParse(t, basePlan)
	decorated := mustParse(t, `{
  "version": 1,
  "plan_hash": "sha256:bogus",
  "approval": {"approved_by": "me"},
  "tool_calls": [
    {"id": "1", "tool": "fs.read_text", "args": {"path": "/tmp/a.txt", "max_bytes": 4096}}
  ]
}`)

	if plain.Hash() != decorated.Hash() {
		t.Errorf("hash should ignore plan_hash and approval fields: %s != %s",
			plain.Hash(), decorated.Hash())
	}
}

func TestHash_KeyOrderInsensitive(t *testing.T) {
	a := mustParse(t, `{"version": 1, "tool_calls": [{"id": "1", "tool": "fs.read_text", "args": {"path": "/p", "max_bytes": 10}}]}`)
	b := mustParse(t, `{"tool_calls": [{"args": {"max_bytes": 10, "path": "/p"}, "tool": "fs.read_text", "id": "1"}], "version": 1}`)

	if a.Hash() != b.Hash() {
		t.Errorf("hash should be key-order insensitive: %s != %s", a.Hash(), b.Hash())
	}
}

func TestHash_ListOrderSensitive(t *testing.T) {
	a := mustParse(t, `{"version": 1, "tool_calls": [
		{"id": "1", "tool": "fs.list_dir", "args": {"path": "/a"}},
		{"id": "2", "tool": "fs.list_dir", "args": {"path": "/b"}}
	]}`)
	b := mustParse(t, `{"version": 1, "tool_calls": [
		{"id": "2", "tool": "fs.list_dir", "args": {"path": "/b"}},
		{"id": "1", "tool": "fs.list_dir", "args": {"path": "/a"}}
	]}`)

	if a.Hash() == b.Hash() {
		t.Error("hash should be sensitive to tool_calls order")
	}
}

func TestHash_ContentChangesHash(t *testing.T) {
	a := mustParse(t, basePlan)
	b := mustParse(t, strings.Replace(basePlan, "4096", "4097", 1))

	if a.Hash() == b.Hash() {
		t.Error("changing args should change the hash")
	}
}

func TestHash_Format(t *testing.T) {
	h := mustParse(t, basePlan).Hash()
	if !strings.HasPrefix(h, HashPrefix) {
		t.Errorf("hash missing prefix: %s", h)
	}
	hex := strings.TrimPrefix(h, HashPrefix)
	if len(hex) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hex))
	}
	if hex != strings.ToLower(hex) {
		t.Errorf("hash must be lowercase: %s", hex)
	}
}

func TestHash_NonASCIIStable(t *testing.T) {
	a := mustParse(t, `{"version": 1, "instruction": "rename résumé", "tool_calls": []}`)
	b := mustParse(t, `{"version": 1, "instruction": "rename résumé", "tool_calls": []}`)

	if a.Hash() != b.Hash() {
		t.Errorf("escaped and literal UTF-8 should hash equal: %s != %s", a.Hash(), b.Hash())
	}
}

func TestEnsureHash_RecordsHashWithoutChangingIt(t *testing.T) {
	p := mustParse(t, basePlan)
	first := p.EnsureHash()
	if p.StoredHash() != first {
		t.Errorf("StoredHash = %s, want %s", p.StoredHash(), first)
	}
	// Recording the hash must not alter the content hash.
	if second := p.EnsureHash(); second != first {
		t.Errorf("hash changed after recording: %s != %s", second, first)
	}
}

func TestWriteCanonicalString_Escapes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a\tb\nc", `"a\tb\nc"`},
		{"\x01", `"\u0001"`},
		{"r\u00e9sum\u00e9", `"r\u00e9sum\u00e9"`},
		{"quote \" and \\", `"quote \" and \\"`},
		{"emoji \U0001f600", `"emoji \ud83d\ude00"`},
	}
	for _, tc := range cases {
		var b strings.Builder
		writeCanonicalString(&b, tc.in)
		if b.String() != tc.want {
			t.Errorf("writeCanonicalString(%q) = %s, want %s", tc.in, b.String(), tc.want)
		}
	}
}
