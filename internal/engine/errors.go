package engine

import "errors"

// ErrStateStore marks a failed sync record write. Unlike per-page errors it
// aborts the whole run: continuing without durable records would make every
// later pass misclassify changes.
var ErrStateStore = errors.New("state store write failed")
