package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorDuplicateRecord marks an upsert that hit an already-synced row.
// Callers treat it as "skipped", never as a batch failure.
var ErrorDuplicateRecord = errors.New("duplicate record")
