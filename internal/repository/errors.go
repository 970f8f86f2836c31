package repository

import "errors"

// ErrNotFound is a repository-specific sentinel error. It is returned when a
// query for a single entity (e.g., GetConversation) finds no rows.
//
// The service layer checks for this error and translates it into a
// domain-level error (app_errors.ErrNotFound), which keeps the business logic
// decoupled from the underlying driver's error (e.g., sql.ErrNoRows or
// redis.Nil).
var ErrNotFound = errors.New("repository: not found")
