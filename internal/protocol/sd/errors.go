package sd

import "errors"

var ErrMalformedSD = errors.New("sd: malformed service discovery payload")
