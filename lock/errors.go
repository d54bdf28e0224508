package lock

import "errors"

var errNilStore = errors.New("lock: shared store is required")
