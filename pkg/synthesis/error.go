package synthesis

import "errors"

// ErrSynthesis is returned when merging contents fails. Callers treat it
// as non-destructive: the cluster stays unmerged.
var ErrSynthesis = errors.New("synthesis failed")
