package hotstore

import "errors"

// errDuplicateKey is returned by Put on an idempotency_key collision. Kept
// private to this package; the ingest path checks for it with errors.Is.
var errDuplicateKey = errors.New("hotstore: duplicate idempotency key")

// IsDuplicateKey reports whether err is (or wraps) the hot store's
// duplicate-key rejection.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, errDuplicateKey)
}
