// Package bookid derives deterministic identifiers used throughout TinyOPDS:
// book IDs synthesized from file names, the per-library database file name,
// and the per-client fingerprint used by the HTTP auth gate. All of them are
// UUIDv5 values taken over the well-known ISO-OID namespace.
package bookid

import "github.com/google/uuid"

// ISOOID is the well-known UUID namespace {6ba7b812-9dad-11d1-80b4-00c04fd430c8}
// used for every UUIDv5 derivation in TinyOPDS.
var ISOOID = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// Derive returns UUIDv5(ISOOID, value) as its canonical string form. It is
// deterministic: the same value always yields the same ID across runs and
// processes.
func Derive(value string) string {
	return uuid.NewSHA1(ISOOID, []byte(value)).String()
}

// IsValid reports whether s parses as a well-formed UUID (any version).
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ForFileName synthesizes a book ID from its relative file name. Used when
// the parser found no usable ID in the source document, or when Library.Add
// must replace a colliding ID.
func ForFileName(fileName string) string {
	return Derive(fileName)
}

// ForLibraryPath derives the database file name for a given library root,
// so that switching library roots automatically switches the backing
// database file.
func ForLibraryPath(libraryPath string) string {
	return Derive(libraryPath) + ".db"
}

// ClientFingerprint derives the opaque fingerprint used by the "remember
// clients" auth feature: UUIDv5 over the concatenation of the client's
// User-Agent header and its remote IP address.
func ClientFingerprint(userAgent, remoteIP string) string {
	return Derive(userAgent + remoteIP)
}
