package tp

import "errors"

var (
	ErrMalformedTP            = errors.New("tp: malformed segment")
	ErrReassemblyTimeout      = errors.New("tp: reassembly timed out")
	ErrReassemblyInconsistent = errors.New("tp: inconsistent segment lengths")
	ErrInvalidConfig          = errors.New("tp: invalid config")
)
