package eventstream

import "errors"

// ErrNilEvent indicates a nil lifecycle event payload was provided to a
// publisher.
var ErrNilEvent = errors.New("nil lifecycle event")
