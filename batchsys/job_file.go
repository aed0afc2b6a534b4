package batchsys

import (
    "bufio"
    "fmt"
    "io"
    "log/slog"
    "os"
    "path/filepath"

    "go-jobenv/parsing"
    "go-jobenv/pathutil"

    "github.com/google/uuid"
)

// WriteJobFile writes the job script for job to its (expanded) job file
// path: shebang, a short header, the handler's directives and then body.
// The file only appears under its final name once fully written.
func WriteJobFile(h Handler, job parsing.JobConfig, body io.Reader) error {
    if err := job.Validate(); err != nil {
        return fmt.Errorf("invalid job config: %w", err)
    }

    jobFilePath := pathutil.ExpandPath(job.JobFilePath)
    dir := filepath.Dir(jobFilePath)
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("failed to create job dir %s: %w", dir, err)
    }

    tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", uuid.NewString()))
    tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
    if err != nil {
        return fmt.Errorf("failed to create %s: %w", tmpPath, err)
    }
    // No-op once renamed.
    defer os.Remove(tmpPath)

    w := bufio.NewWriter(tmpFile)
    fmt.Fprintln(w, "#!/bin/bash -l")
    fmt.Fprintf(w, "# Suite: %s\n", job.SuiteName)
    fmt.Fprintf(w, "# Task: %s\n", job.TaskID)
    fmt.Fprintf(w, "# Job runner: %s\n", h.Name())
    fmt.Fprintln(w)
    fmt.Fprintln(w, "# DIRECTIVES:")
    for _, line := range h.FormatDirectives(job) {
        fmt.Fprintln(w, line)
    }
    fmt.Fprintln(w)
    if body != nil {
        if _, err := io.Copy(w, body); err != nil {
            tmpFile.Close()
            return fmt.Errorf("failed to write job body to %s: %w", tmpPath, err)
        }
    }

    if err := w.Flush(); err != nil {
        tmpFile.Close()
        return fmt.Errorf("failed to write %s: %w", tmpPath, err)
    }
    if err := tmpFile.Sync(); err != nil {
        tmpFile.Close()
        return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
    }
    if err := tmpFile.Close(); err != nil {
        return fmt.Errorf("failed to close %s: %w", tmpPath, err)
    }

    if err := os.Rename(tmpPath, jobFilePath); err != nil {
        return fmt.Errorf("failed to move job file into place at %s: %w", jobFilePath, err)
    }
    slog.Debug("job file written", "path", jobFilePath, "runner", h.Name())
    return nil
}
