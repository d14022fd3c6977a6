package lexical

import "errors"

// ErrUnavailable is returned when the backing index is unreachable.
// Retrieval treats it as a degraded signal, not a fatal error.
var ErrUnavailable = errors.New("lexical index unavailable")
