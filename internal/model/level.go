package model

import (
	"fmt"
	"strings"
)

// LevelKind identifies the scope an access method or user is defined at.
type LevelKind int

const (
	LevelRoot LevelKind = iota
	LevelNamespace
	LevelDatabase
)

func (k LevelKind) String() string {
	switch k {
	case LevelRoot:
		return "root"
	case LevelNamespace:
		return "namespace"
	case LevelDatabase:
		return "database"
	default:
		return fmt.Sprintf("level(%d)", int(k))
	}
}

// Level is the scope of a definition: root, a namespace, or a database
// inside a namespace.
type Level struct {
	Kind      LevelKind
	Namespace string
	Database  string
}

// Root returns the root level.
func Root() Level { return Level{Kind: LevelRoot} }

// Namespace returns the level for namespace ns.
func Namespace(ns string) Level { return Level{Kind: LevelNamespace, Namespace: ns} }

// Database returns the level for database db inside namespace ns.
func Database(ns, db string) Level {
	return Level{Kind: LevelDatabase, Namespace: ns, Database: db}
}

// ParseLevel builds a level from a kind name ("root", "ns"/"namespace",
// "db"/"database") and the namespace and database names it requires.
func ParseLevel(kind, ns, db string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "root":
		return Root(), nil
	case "ns", "namespace":
		if ns == "" {
			return Level{}, fmt.Errorf("namespace level requires a namespace name")
		}
		return Namespace(ns), nil
	case "db", "database":
		if ns == "" || db == "" {
			return Level{}, fmt.Errorf("database level requires namespace and database names")
		}
		return Database(ns, db), nil
	default:
		return Level{}, fmt.Errorf("unknown level %q (want root, ns or db)", kind)
	}
}

// Valid reports whether the level carries the names its kind requires.
func (l Level) Valid() bool {
	switch l.Kind {
	case LevelRoot:
		return l.Namespace == "" && l.Database == ""
	case LevelNamespace:
		return l.Namespace != "" && l.Database == ""
	case LevelDatabase:
		return l.Namespace != "" && l.Database != ""
	default:
		return false
	}
}

func (l Level) String() string {
	switch l.Kind {
	case LevelNamespace:
		return "ns:" + l.Namespace
	case LevelDatabase:
		return "db:" + l.Namespace + "/" + l.Database
	default:
		return "root"
	}
}
