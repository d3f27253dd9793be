package access

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/session"
)

// NamePattern is what access method and user names must match.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// NameRules validate an access method or user name.
var NameRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 64),
	validation.Match(NamePattern),
}

var (
	errRecordLevel  = errors.New("record access can only be defined on a database")
	errSubjectLevel = errors.New("bearer access for records can only be defined on a database")
	errNoVerifyKey  = errors.New("jwt access requires a verification key or a jwks url")
	errBearerOff    = errors.New("bearer access is not enabled")
)

func algorithm(value interface{}) error {
	alg, _ := value.(string)
	if alg == "" || session.SupportedAlgorithm(alg) {
		return nil
	}
	return fmt.Errorf("unsupported algorithm %q", alg)
}

func level(value interface{}) error {
	l, _ := value.(model.Level)
	if !l.Valid() {
		return fmt.Errorf("invalid level %v", l)
	}
	if l.Namespace != "" && !NamePattern.MatchString(l.Namespace) || l.Database != "" && !NamePattern.MatchString(l.Database) {
		return fmt.Errorf("invalid level names %v", l)
	}
	return nil
}

func (r *Registry) validate(a *model.AccessMethod) error {
	err := validation.ValidateStruct(a,
		validation.Field(&a.Name, NameRules...),
		validation.Field(&a.Level, validation.By(level)),
		validation.Field(&a.Kind, validation.NotNil),
	)
	if err != nil {
		return err
	}

	switch k := a.Kind.(type) {
	case *model.JWTAccess:
		if k.Verify.Key == "" && k.Verify.URL == "" {
			return errNoVerifyKey
		}
		if err := validateJWT(*k); err != nil {
			return err
		}
	case *model.RecordAccess:
		if a.Level.Kind != model.LevelDatabase {
			return errRecordLevel
		}
		if err := validateJWT(k.JWT); err != nil {
			return err
		}
		if err := r.validateLogic(k.Signin, "signin"); err != nil {
			return err
		}
		if err := r.validateLogic(k.Signup, "signup"); err != nil {
			return err
		}
	case *model.BearerAccess:
		if !r.caps.BearerAccess {
			return errBearerOff
		}
		if _, err := model.ParseSubjectKind(string(k.Subject)); err != nil {
			return err
		}
		if k.Subject == model.SubjectRecord && a.Level.Kind != model.LevelDatabase {
			return errSubjectLevel
		}
		if err := validateJWT(k.JWT); err != nil {
			return err
		}
	}
	return r.validateLogic(a.Authenticate, "authenticate")
}

func validateJWT(j model.JWTAccess) error {
	err := validation.ValidateStruct(&j.Verify,
		validation.Field(&j.Verify.Alg, validation.By(algorithm)),
		validation.Field(&j.Verify.URL, is.URL),
	)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if j.Verify.Key != "" && j.Verify.Alg == "" {
		return errors.New("verify: a key requires an algorithm")
	}
	if j.Issue != nil {
		if err := algorithm(j.Issue.Alg); err != nil {
			return fmt.Errorf("issue: %w", err)
		}
	}
	return nil
}

func (r *Registry) validateLogic(ref *model.LogicRef, fn string) error {
	if ref == nil || r.logic == nil {
		return nil
	}
	if !r.logic.Provides(ref.Name, fn) {
		return fmt.Errorf("%s logic %q is not registered", fn, ref.Name)
	}
	return nil
}
