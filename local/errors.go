package local

import "errors"

var errNilStore = errors.New("local: store is required")
