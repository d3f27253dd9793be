package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		kind, ns, db string
		want         Level
		wantErr      bool
	}{
		{"", "", "", Root(), false},
		{"root", "", "", Root(), false},
		{"ns", "acme", "", Namespace("acme"), false},
		{"namespace", "acme", "", Namespace("acme"), false},
		{"DB", "acme", "main", Database("acme", "main"), false},
		{"db", "acme", "", Level{}, true},
		{"ns", "", "", Level{}, true},
		{"table", "acme", "main", Level{}, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.kind, tt.ns, tt.db)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q, %q, %q) error = %v, wantErr %v", tt.kind, tt.ns, tt.db, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q, %q, %q) = %v, want %v", tt.kind, tt.ns, tt.db, got, tt.want)
		}
	}
}

func TestLevelValidAndString(t *testing.T) {
	tests := []struct {
		level Level
		valid bool
		str   string
	}{
		{Root(), true, "root"},
		{Namespace("acme"), true, "ns:acme"},
		{Database("acme", "main"), true, "db:acme/main"},
		{Level{Kind: LevelRoot, Namespace: "acme"}, false, "root"},
		{Level{Kind: LevelDatabase, Namespace: "acme"}, false, "db:acme/"},
		{Level{Kind: LevelKind(9)}, false, "root"},
	}
	for _, tt := range tests {
		if got := tt.level.Valid(); got != tt.valid {
			t.Errorf("%+v.Valid() = %v, want %v", tt.level, got, tt.valid)
		}
		if got := tt.level.String(); got != tt.str {
			t.Errorf("%+v.String() = %q, want %q", tt.level, got, tt.str)
		}
	}
}

func TestSessionClaimsLevel(t *testing.T) {
	if l := (SessionClaims{}).Level(); l != Root() {
		t.Errorf("got %v, want root", l)
	}
	if l := (SessionClaims{Namespace: "acme"}).Level(); l != Namespace("acme") {
		t.Errorf("got %v, want ns:acme", l)
	}
	if l := (SessionClaims{Namespace: "acme", Database: "main"}).Level(); l != Database("acme", "main") {
		t.Errorf("got %v, want db:acme/main", l)
	}
}

func TestParseRecordID(t *testing.T) {
	id, err := ParseRecordID("user:tobie:1")
	if err != nil {
		t.Fatalf("ParseRecordID: %v", err)
	}
	if id.Table != "user" || id.Key != "tobie:1" {
		t.Errorf("got %+v", id)
	}
	if id.String() != "user:tobie:1" {
		t.Errorf("String() = %q", id.String())
	}
	for _, bad := range []string{"", "user", ":x", "user:"} {
		if _, err := ParseRecordID(bad); err == nil {
			t.Errorf("ParseRecordID(%q): expected error", bad)
		}
	}
	if (RecordID{}).String() != "" || !(RecordID{}).IsZero() {
		t.Error("zero record id should render empty")
	}
}

func TestParseRoleAndNames(t *testing.T) {
	r, err := ParseRole(" OWNER ")
	if err != nil || r != RoleOwner {
		t.Errorf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Error("expected error for unknown role")
	}
	got := RoleNames([]Role{RoleEditor, RoleViewer, RoleEditor})
	if fmt.Sprint(got) != "[Editor Viewer]" {
		t.Errorf("RoleNames = %v", got)
	}
	if RoleNames(nil) != nil {
		t.Error("RoleNames(nil) should be nil")
	}
}

func TestGrantValidity(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	g := &Grant{ExpiresAt: &exp}

	if !g.Valid(now) {
		t.Error("grant should be valid before expiry")
	}
	if g.Valid(exp) {
		t.Error("grant should be invalid at its expiry instant")
	}
	g.ExpiresAt = nil
	if !g.Valid(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Error("grant without expiry should stay valid")
	}
	revoked := now
	g.RevokedAt = &revoked
	if g.Valid(now) || !g.Revoked() {
		t.Error("revoked grant should be invalid")
	}
}

func TestGrantJSONHidesSecrets(t *testing.T) {
	g := Grant{ID: "abcdefghijkl", AccessID: "acc-1", KeyHash: "deadbeef", Type: GrantBearer}
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	for _, hidden := range []string{"KeyHash", "key_hash", "AccessID"} {
		if _, ok := m[hidden]; ok {
			t.Errorf("%s must not be serialized", hidden)
		}
	}

	u := User{Name: "root", Hash: "$2a$..."}
	data, _ = json.Marshal(u)
	json.Unmarshal(data, &m)
	if _, ok := m["Hash"]; ok {
		t.Error("user hash must not be serialized")
	}
}

func TestParseSubjectKind(t *testing.T) {
	for _, s := range []string{"user", "record"} {
		if _, err := ParseSubjectKind(s); err != nil {
			t.Errorf("ParseSubjectKind(%q): %v", s, err)
		}
	}
	if _, err := ParseSubjectKind("device"); err == nil {
		t.Error("expected error for unknown subject kind")
	}
	if s := RecordSubject(RecordID{Table: "device", Key: "d1"}).String(); s != "device:d1" {
		t.Errorf("record subject = %q", s)
	}
	if s := UserSubject("alice").String(); s != "alice" {
		t.Errorf("user subject = %q", s)
	}
}

func TestAccessConfigs(t *testing.T) {
	issue := &JWTIssue{Alg: "HS512", Key: "k"}

	rec := &AccessMethod{Kind: &RecordAccess{JWT: JWTAccess{Issue: issue}}}
	if got, ok := rec.IssueConfig(); !ok || got != *issue {
		t.Errorf("IssueConfig = %+v, %v", got, ok)
	}
	if got, ok := rec.VerifyConfig(); !ok || got.Key != "k" || got.Alg != "HS512" {
		t.Errorf("VerifyConfig falls back to issue key, got %+v, %v", got, ok)
	}

	ext := &AccessMethod{Kind: &JWTAccess{Verify: JWTVerify{URL: "https://idp.example.com/jwks"}}}
	if _, ok := ext.IssueConfig(); ok {
		t.Error("jwt access without issue key should not issue")
	}
	if got, ok := ext.VerifyConfig(); !ok || got.URL == "" {
		t.Errorf("VerifyConfig = %+v, %v", got, ok)
	}

	empty := &AccessMethod{Kind: &BearerAccess{Subject: SubjectUser}}
	if _, ok := empty.VerifyConfig(); ok {
		t.Error("method without keys should not verify")
	}
	if (*AccessMethod)(nil).KindName() != "" || empty.KindName() != KindBearer {
		t.Error("unexpected KindName")
	}
}

func TestParamsString(t *testing.T) {
	p := Params{"key": "abc", "empty": "", "n": 3}
	if v, ok := p.String("key"); !ok || v != "abc" {
		t.Errorf("String(key) = %q, %v", v, ok)
	}
	for _, name := range []string{"empty", "n", "missing"} {
		if _, ok := p.String(name); ok {
			t.Errorf("String(%q) should not be ok", name)
		}
	}
}

func TestLogicRefParam(t *testing.T) {
	var nilRef *LogicRef
	if nilRef.Param("table", "user") != "user" {
		t.Error("nil ref should return default")
	}
	ref := &LogicRef{Name: "credentials", Params: map[string]string{"table": "account", "ident": ""}}
	if ref.Param("table", "user") != "account" || ref.Param("ident", "email") != "email" {
		t.Error("unexpected Param results")
	}
}

func TestThrownError(t *testing.T) {
	err := fmt.Errorf("authenticate: %w", Throw("account disabled"))
	if !IsThrown(err) {
		t.Fatal("expected wrapped thrown error")
	}
	var thrown *ThrownError
	if !errors.As(err, &thrown) || thrown.Message != "account disabled" {
		t.Errorf("got %v", thrown)
	}
	if IsThrown(ErrInvalidAuth) {
		t.Error("sentinel must not count as thrown")
	}
}
