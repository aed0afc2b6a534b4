package fs

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "os"
    "os/exec"
    "path/filepath"
)

// LocalFS runs jobs on the machine the worker lives on.
type LocalFS struct{}

func (LocalFS) IsRemote() bool {
    return false
}

func (LocalFS) RunCmd(ctx context.Context, argv []string) (CmdOut, error) {
    if len(argv) == 0 {
        return CmdOut{}, fmt.Errorf("empty command")
    }

    var stdout, stderr bytes.Buffer
    cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
    cmd.Stdout = &stdout
    cmd.Stderr = &stderr

    exitCode := 0
    err := cmd.Run()
    if err != nil {
        var exitErr *exec.ExitError
        if errors.As(err, &exitErr) {
            exitCode = exitErr.ExitCode()
        }
    }
    slog.Debug("ran local command", "argv", argv, "exitCode", exitCode)

    return CmdOut{
        ExitCode: exitCode,
        StdOut:   stdout.String(),
        StdErr:   stderr.String(),
    }, err
}

// Upload copies src to dst. When both name the same file there is
// nothing to do.
func (fs LocalFS) Upload(_ context.Context, src, dst string) error {
    if filepath.Clean(src) == filepath.Clean(dst) {
        return nil
    }
    return fs.Copy(src, dst)
}

func (fs LocalFS) Copy(src string, dst string) error {
    parentDstDir := filepath.Dir(dst)
    if err := os.MkdirAll(parentDstDir, 0o755); err != nil {
        return fmt.Errorf(
            "unable to make parent dir %s of dst %s: %s",
            parentDstDir, dst, err,
        )
    }

    srcFile, err := os.Open(src)
    if err != nil {
        return fmt.Errorf("unable to open source file %s: %s", src, err)
    }
    defer srcFile.Close()

    srcInfo, err := srcFile.Stat()
    if err != nil {
        return fmt.Errorf("unable to stat source file %s: %s", src, err)
    }

    dstFile, err := os.OpenFile(
        dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, srcInfo.Mode().Perm(),
    )
    if err != nil {
        return fmt.Errorf("unable to create dst file %s: %s", dst, err)
    }
    defer dstFile.Close()

    if _, err = io.Copy(dstFile, srcFile); err != nil {
        return fmt.Errorf(
            "error copying from src %s to dst %s: %s",
            src, dst, err,
        )
    }

    if err = dstFile.Sync(); err != nil {
        return fmt.Errorf("error syncing dst %s to disk: %s", dst, err)
    }
    return nil
}
