package store

import (
	"bytes"
	"strings"

	"github.com/faucetdb/accessd/internal/model"
)

// Key layout. Every name segment is terminated by 0x00 so that no name can
// be a prefix of another.
//
//	/                       root
//	/*<ns>                  namespace
//	/*<ns>*<db>             database
//	<base>!ac<name>         access method
//	<base>!us<name>         system user
//	<base>&<ac>!gr<id>      grant of access method <ac>
//	<base>!ix<tb><f><v>     record of <tb> whose field <f> holds <v>
//	/*<ns>*<db>*<tb>*<key>  record
const sep = 0x00

func levelBase(l model.Level) []byte {
	b := []byte{'/'}
	switch l.Kind {
	case model.LevelNamespace:
		b = appendSegment(append(b, '*'), l.Namespace)
	case model.LevelDatabase:
		b = appendSegment(append(b, '*'), l.Namespace)
		b = appendSegment(append(b, '*'), l.Database)
	}
	return b
}

func appendSegment(b []byte, name string) []byte {
	return append(append(b, name...), sep)
}

func accessPrefix(l model.Level) []byte {
	return append(levelBase(l), "!ac"...)
}

func accessKey(l model.Level, name string) []byte {
	return appendSegment(accessPrefix(l), name)
}

func userPrefix(l model.Level) []byte {
	return append(levelBase(l), "!us"...)
}

func userKey(l model.Level, name string) []byte {
	return appendSegment(userPrefix(l), name)
}

// grantRoot covers every grant of one access method.
func grantRoot(l model.Level, ac string) []byte {
	return appendSegment(append(levelBase(l), '&'), ac)
}

func grantPrefix(l model.Level, ac string) []byte {
	return append(grantRoot(l, ac), "!gr"...)
}

func grantKey(l model.Level, ac, id string) []byte {
	return appendSegment(grantPrefix(l, ac), id)
}

func identKey(l model.Level, table, field, value string) []byte {
	b := appendSegment(append(levelBase(l), "!ix"...), table)
	return appendSegment(appendSegment(b, field), value)
}

func tablePrefix(l model.Level, table string) []byte {
	return append(appendSegment(append(levelBase(l), '*'), table), '*')
}

func recordKey(l model.Level, id model.RecordID) []byte {
	return appendSegment(tablePrefix(l, id.Table), id.Key)
}

// segmentAfter returns the name segment that follows prefix in key.
func segmentAfter(key, prefix []byte) string {
	return string(bytes.TrimSuffix(bytes.TrimPrefix(key, prefix), []byte{sep}))
}

// printable renders a key for error messages.
func printable(key []byte) string {
	return strings.ReplaceAll(string(key), string(rune(sep)), "/")
}

// ValidName reports whether name can be used as a key segment.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsRune(name, rune(sep))
}
