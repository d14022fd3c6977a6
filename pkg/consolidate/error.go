package consolidate

import "errors"

// ErrConsistency is returned when a merge would create a cycle in the
// absorption history. The sweep aborts the group loudly; merging anyway
// would make an item its own ancestor.
var ErrConsistency = errors.New("merge ancestry cycle detected")
