// Package logic holds the named signin, signup and authenticate logic that
// record access methods refer to.
package logic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

// ErrUnknownLogic is returned when a logic reference names nothing registered.
var ErrUnknownLogic = errors.New("unknown logic")

// Passwords hashes and verifies record secrets.
type Passwords interface {
	Verify(hash, plain string) bool
	Hash(plain string) (string, error)
}

// Env is what a piece of logic runs against.
type Env struct {
	Tx        kvs.Transaction
	Level     model.Level
	Access    *model.AccessMethod
	Vars      model.Params
	Params    map[string]string
	Passwords Passwords
	Now       time.Time
}

// Param returns a logic parameter, or def when it is unset.
func (e Env) Param(name, def string) string {
	if v, ok := e.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// SigninFunc finds the record identified by the signin variables. A nil
// id with a nil error means no identity.
type SigninFunc func(ctx context.Context, env Env) (*model.RecordID, error)

// SignupFunc creates a record from the signup variables.
type SignupFunc func(ctx context.Context, env Env) (*model.RecordID, error)

// AuthenticateFunc checks an established identity. It may return a
// different record, nil to reject, or a *model.ThrownError.
type AuthenticateFunc func(ctx context.Context, env Env, id model.RecordID) (*model.RecordID, error)

// Logic bundles the functions a name provides. Any of them may be nil.
type Logic struct {
	Signin       SigninFunc
	Signup       SignupFunc
	Authenticate AuthenticateFunc
}

// Registry maps logic names to implementations.
type Registry struct {
	mu    sync.RWMutex
	logic map[string]Logic
}

// NewRegistry returns a registry holding the built-in logic: "credentials"
// and "require".
func NewRegistry() *Registry {
	r := &Registry{logic: make(map[string]Logic)}
	r.Register(CredentialsName, Credentials())
	r.Register(RequireName, Require())
	return r
}

// Register adds or replaces logic under name.
func (r *Registry) Register(name string, l Logic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logic[name] = l
}

// Lookup returns the logic registered under name.
func (r *Registry) Lookup(name string) (Logic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logic[name]
	return l, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.logic))
	for n := range r.logic {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Provides reports whether name is registered with the function selected by
// fn ("signin", "signup" or "authenticate").
func (r *Registry) Provides(name, fn string) bool {
	l, ok := r.Lookup(name)
	if !ok {
		return false
	}
	switch fn {
	case "signin":
		return l.Signin != nil
	case "signup":
		return l.Signup != nil
	case "authenticate":
		return l.Authenticate != nil
	}
	return false
}

// Signin runs the signin function of ref.
func (r *Registry) Signin(ctx context.Context, ref *model.LogicRef, env Env) (*model.RecordID, error) {
	l, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	if l.Signin == nil {
		return nil, fmt.Errorf("%w: %s has no signin", ErrUnknownLogic, ref.Name)
	}
	env.Params = ref.Params
	return l.Signin(ctx, env)
}

// Signup runs the signup function of ref.
func (r *Registry) Signup(ctx context.Context, ref *model.LogicRef, env Env) (*model.RecordID, error) {
	l, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	if l.Signup == nil {
		return nil, fmt.Errorf("%w: %s has no signup", ErrUnknownLogic, ref.Name)
	}
	env.Params = ref.Params
	return l.Signup(ctx, env)
}

// Authenticate runs the authenticate function of ref against id.
func (r *Registry) Authenticate(ctx context.Context, ref *model.LogicRef, env Env, id model.RecordID) (*model.RecordID, error) {
	l, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	if l.Authenticate == nil {
		return nil, fmt.Errorf("%w: %s has no authenticate", ErrUnknownLogic, ref.Name)
	}
	env.Params = ref.Params
	return l.Authenticate(ctx, env, id)
}

func (r *Registry) resolve(ref *model.LogicRef) (Logic, error) {
	if ref == nil || ref.Name == "" {
		return Logic{}, fmt.Errorf("%w: empty reference", ErrUnknownLogic)
	}
	l, ok := r.Lookup(ref.Name)
	if !ok {
		return Logic{}, fmt.Errorf("%w: %s", ErrUnknownLogic, ref.Name)
	}
	return l, nil
}
