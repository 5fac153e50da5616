package models

import "errors"

// ErrNotFound is returned by stores when a campaign or cached value does not exist.
var ErrNotFound = errors.New("not found")
