package fs

import (
    "context"
    "fmt"
    "strings"

    "go-jobenv/pathutil"
)

type CmdOut struct {
    ExitCode int
    StdOut   string
    StdErr   string
}

// Host runs scheduler commands and receives job files, either on this
// machine or on a login node over SSH.
type Host interface {
    // RunCmd runs argv to completion. A non-zero exit is returned as an
    // error alongside the captured output.
    RunCmd(ctx context.Context, argv []string) (CmdOut, error)
    // Upload copies the local file src to dst on the host, creating
    // parent dirs as needed.
    Upload(ctx context.Context, src, dst string) error
    IsRemote() bool
}

// RunTreeMaker is implemented by hosts that need the run tree created on
// their side as well as locally.
type RunTreeMaker interface {
    MakeRemoteRunTree(
        ctx context.Context, id string, symlinks map[pathutil.RunTreeRole]string,
    ) error
}

// CmdError formats a failed command the same way everywhere.
func CmdError(argv []string, out CmdOut, err error) error {
    return fmt.Errorf(
        "\"%s\" failed with exit code %d, error %s, and stderr %s",
        strings.Join(argv, " "), out.ExitCode, err, strings.TrimSpace(out.StdErr),
    )
}
