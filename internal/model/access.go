package model

import "time"

// AccessMethod is a named authentication method defined at a level. Its Kind
// decides which signin path applies.
type AccessMethod struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level Level  `json:"level"`
	Kind  AccessKind

	// Authenticate is the optional AUTHENTICATE clause, run after a record
	// identity has been established.
	Authenticate *LogicRef `json:"authenticate,omitempty"`

	// GrantDuration bounds bearer grants issued for this method. Nil means
	// grants never expire.
	GrantDuration *time.Duration `json:"grant_duration,omitempty"`
	// SessionDuration bounds session tokens. Nil means the service default.
	SessionDuration *time.Duration `json:"session_duration,omitempty"`

	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessKind is the closed set of access method kinds: *JWTAccess,
// *RecordAccess and *BearerAccess.
type AccessKind interface {
	KindName() string
	isAccessKind()
}

// Kind names as stored and printed.
const (
	KindJWT    = "jwt"
	KindRecord = "record"
	KindBearer = "bearer"
)

// JWTVerify describes how externally issued tokens are verified: either a
// static key for Alg, or a JWKS endpoint in URL.
type JWTVerify struct {
	Alg string `json:"alg,omitempty"`
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
}

// JWTIssue describes the key session tokens are signed with.
type JWTIssue struct {
	Alg string `json:"alg"`
	Key string `json:"-"`
}

// JWTAccess verifies tokens issued elsewhere and optionally issues its own.
type JWTAccess struct {
	Verify JWTVerify `json:"verify"`
	Issue  *JWTIssue `json:"issue,omitempty"`
}

// RecordAccess authenticates application records through signin and signup
// logic. With Refresh set, record signins also hand out refresh tokens.
type RecordAccess struct {
	Signup  *LogicRef `json:"signup,omitempty"`
	Signin  *LogicRef `json:"signin,omitempty"`
	Refresh bool      `json:"refresh"`
	JWT     JWTAccess `json:"jwt"`
}

// BearerAccess authenticates bearer keys issued as grants to a subject.
type BearerAccess struct {
	Subject SubjectKind `json:"subject"`
	JWT     JWTAccess   `json:"jwt"`
}

func (*JWTAccess) KindName() string    { return KindJWT }
func (*RecordAccess) KindName() string { return KindRecord }
func (*BearerAccess) KindName() string { return KindBearer }

func (*JWTAccess) isAccessKind()    {}
func (*RecordAccess) isAccessKind() {}
func (*BearerAccess) isAccessKind() {}

// KindName returns the name of the method's kind, or "" when unset.
func (a *AccessMethod) KindName() string {
	if a == nil || a.Kind == nil {
		return ""
	}
	return a.Kind.KindName()
}

// IssueConfig returns the key session tokens for this method are signed with.
func (a *AccessMethod) IssueConfig() (JWTIssue, bool) {
	var issue *JWTIssue
	switch k := a.Kind.(type) {
	case *JWTAccess:
		issue = k.Issue
	case *RecordAccess:
		issue = k.JWT.Issue
	case *BearerAccess:
		issue = k.JWT.Issue
	}
	if issue == nil || issue.Key == "" {
		return JWTIssue{}, false
	}
	return *issue, true
}

// VerifyConfig returns how tokens claiming this method are verified. Methods
// without an explicit verify config verify with their own issue key.
func (a *AccessMethod) VerifyConfig() (JWTVerify, bool) {
	var j JWTAccess
	switch k := a.Kind.(type) {
	case *JWTAccess:
		j = *k
	case *RecordAccess:
		j = k.JWT
	case *BearerAccess:
		j = k.JWT
	default:
		return JWTVerify{}, false
	}
	if j.Verify.Key != "" || j.Verify.URL != "" {
		return j.Verify, true
	}
	if j.Issue != nil && j.Issue.Key != "" {
		return JWTVerify{Alg: j.Issue.Alg, Key: j.Issue.Key}, true
	}
	return JWTVerify{}, false
}

// LogicRef names a registered piece of signin, signup or authenticate logic
// together with its parameters.
type LogicRef struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Param returns the named parameter, or def when it is unset.
func (r *LogicRef) Param(name, def string) string {
	if r == nil {
		return def
	}
	if v, ok := r.Params[name]; ok && v != "" {
		return v
	}
	return def
}
