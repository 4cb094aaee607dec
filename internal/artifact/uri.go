// Package artifact holds the addressing rules for files exchanged across the
// job protocol boundary. An artifact travels as a URI of the form
// "scheme://key"; the key is opaque and only meaningful to the storage plugin
// that owns the scheme.
package artifact

import "strings"

// DefaultScheme is assumed when a reference carries no "://" separator.
const DefaultScheme = "local"

const separator = "://"

// Path marks a function input or output value as a local filesystem path.
// Result entries of this type are uploaded and rewritten to URIs when job
// results are fetched; every other value is returned as is.
type Path string

// URI is a parsed artifact reference.
type URI struct {
	Scheme string
	Key    string
}

// Parse splits raw into scheme and key. A reference without a valid scheme
// prefix is a local key and the whole string becomes the key, so
// "/data/in.txt" and "local:///data/in.txt" both resolve to the key
// "/data/in.txt".
func Parse(raw string) URI {
	idx := strings.Index(raw, separator)
	if idx <= 0 || !validScheme(raw[:idx]) {
		return URI{Scheme: DefaultScheme, Key: raw}
	}
	return URI{
		Scheme: strings.ToLower(raw[:idx]),
		Key:    raw[idx+len(separator):],
	}
}

// Format builds "scheme://key".
func Format(scheme, key string) string {
	return scheme + separator + key
}

func (u URI) String() string {
	return Format(u.Scheme, u.Key)
}

// validScheme follows RFC 3986: a letter followed by letters, digits, "+",
// "-" or ".".
func validScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return s != ""
}
