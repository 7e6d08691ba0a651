package telemetry

import (
	"github.com/fyrsmithlabs/pointerd/internal/sanitize"
)

// ErrInvalidSessionID is returned for malformed or unsafe session ids,
// before any filesystem access. Re-exported so callers need not import
// the sanitize package.
var ErrInvalidSessionID = sanitize.ErrInvalidSessionID
