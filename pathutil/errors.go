package pathutil

// ErrorCategory values are attached to errors with go-errcat; switch on
// errcat.Category(err) to tell them apart.
type ErrorCategory string

const (
    // The operator supplied a bad removal pattern or workflow ID.
    ErrUserInput ErrorCategory = "pathutil-user-input"
    // A symlink target still holds an unexpanded environment variable.
    ErrConfiguration ErrorCategory = "pathutil-configuration"
    // A filesystem-mutating call was handed a relative path.
    ErrInvalidArgument ErrorCategory = "pathutil-invalid-argument"
    ErrNotFound        ErrorCategory = "pathutil-not-found"
    ErrNotADirectory   ErrorCategory = "pathutil-not-a-directory"
    // Something already sits where a symlink should go.
    ErrFilesystemState ErrorCategory = "pathutil-filesystem-state"
)
