package cachestore

import "github.com/xmx0632/photoshow/errors"

// errMirrorEmpty marks a mirror that has never seen a write or read.
var errMirrorEmpty = errors.New("memory mirror not populated")
