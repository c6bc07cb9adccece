package ledgerapi

import "errors"

// ErrUnavailable is returned by Memory while it is offline.
var ErrUnavailable = errors.New("ledger unavailable")

var errRecordNotFound = errors.New("record not found")
