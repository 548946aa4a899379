package storage

import "errors"

// ErrNotFound is returned when a lookup matches no stored samples, such as
// OldestReceivedAt on an empty table. The SQLite store returns it too.
var ErrNotFound = errors.New("storage: not found")
