package pathutil

import (
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "sort"
    "strings"

    "github.com/warpfork/go-errcat"
)

func requireAbs(path string) error {
    if !filepath.IsAbs(path) {
        return errcat.Errorf(ErrInvalidArgument, "Path must be absolute: %s", path)
    }
    return nil
}

// RemoveDirAndTarget removes a directory tree. If path is a symlink, the
// directory it points at is removed first, then the link. A dangling link
// is simply removed.
func RemoveDirAndTarget(path string) error {
    if err := requireAbs(path); err != nil {
        return err
    }

    info, err := os.Lstat(path)
    if os.IsNotExist(err) {
        return errcat.Errorf(ErrNotFound, "no such file or directory: %s", path)
    } else if err != nil {
        return fmt.Errorf("failed to stat %s: %w", path, err)
    }

    if info.Mode()&os.ModeSymlink != 0 {
        target, err := filepath.EvalSymlinks(path)
        if err == nil {
            targetInfo, err := os.Lstat(target)
            if err != nil {
                return fmt.Errorf("failed to stat symlink target %s: %w", target, err)
            }
            if !targetInfo.IsDir() {
                return errcat.Errorf(
                    ErrNotADirectory, "not a directory: %s (-> %s)", path, target,
                )
            }
            slog.Debug("removing symlink target directory", "path", path, "target", target)
            if err := os.RemoveAll(target); err != nil {
                return fmt.Errorf("failed to remove %s: %w", target, err)
            }
            slog.Debug("removing symlink", "path", path)
        } else if os.IsNotExist(err) {
            slog.Debug("removing broken symlink", "path", path)
        } else {
            return fmt.Errorf("failed to resolve symlink %s: %w", path, err)
        }

        if err := os.Remove(path); err != nil {
            return fmt.Errorf("failed to remove symlink %s: %w", path, err)
        }
        return nil
    }

    if !info.IsDir() {
        return errcat.Errorf(ErrNotADirectory, "not a directory: %s", path)
    }

    slog.Debug("removing directory", "path", path)
    if err := os.RemoveAll(path); err != nil {
        return fmt.Errorf("failed to remove %s: %w", path, err)
    }
    return nil
}

// RemoveDirOrFile removes whatever is at path without following symlinks.
// An absent path is not an error.
func RemoveDirOrFile(path string) error {
    if err := requireAbs(path); err != nil {
        return err
    }

    info, err := os.Lstat(path)
    if os.IsNotExist(err) {
        return nil
    } else if err != nil {
        return fmt.Errorf("failed to stat %s: %w", path, err)
    }

    switch {
    case info.Mode()&os.ModeSymlink != 0:
        slog.Debug("removing symlink", "path", path)
        err = os.Remove(path)
    case info.IsDir():
        slog.Debug("removing directory", "path", path)
        err = os.RemoveAll(path)
    default:
        slog.Debug("removing file", "path", path)
        err = os.Remove(path)
    }
    if err != nil {
        return fmt.Errorf("failed to remove %s: %w", path, err)
    }
    return nil
}

// ParseRmDirs turns operator-supplied removal patterns into a set of
// cleaned paths relative to the run dir. Each argument may hold several
// patterns separated by ':'. A trailing '/' is kept, it restricts the
// pattern to directories.
func ParseRmDirs(rmDirs []string) (map[string]struct{}, error) {
    result := make(map[string]struct{})
    for _, item := range rmDirs {
        for _, part := range strings.Split(item, ":") {
            part = strings.TrimSpace(part)
            if part == "" {
                continue
            }

            isDir := strings.HasSuffix(part, "/")
            part = filepath.Clean(part)
            if filepath.IsAbs(part) {
                return nil, errcat.Errorf(
                    ErrUserInput, "--rm option cannot take absolute paths",
                )
            }
            if part == "." || part == ".." || strings.HasPrefix(part, "../") {
                return nil, errcat.Errorf(
                    ErrUserInput,
                    "--rm option cannot take paths that point to the run directory or above",
                )
            }
            if isDir {
                part += "/"
            }
            result[part] = struct{}{}
        }
    }
    return result, nil
}

// CleanRunDir removes a workflow's run dir. With no patterns the whole
// tree goes, symlink targets included, along with any parent dirs left
// empty under the run root. Otherwise only paths matching the patterns
// (as returned by ParseRmDirs) are removed.
func CleanRunDir(id string, rmDirs map[string]struct{}) error {
    if err := ValidateWorkflowID(id); err != nil {
        return err
    }
    runDir := RunDir(id)

    if len(rmDirs) > 0 {
        return cleanUsingGlob(runDir, rmDirs)
    }

    // Deepest roles first so a link nested in a linked dir is still
    // reachable when we get to it.
    for i := len(AllRoles) - 1; i > 0; i-- {
        linkPath := filepath.Join(runDir, AllRoles[i].RelPath())
        info, err := os.Lstat(linkPath)
        if err != nil || info.Mode()&os.ModeSymlink == 0 {
            continue
        }
        if err := RemoveDirAndTarget(linkPath); err != nil {
            return err
        }
    }

    if err := RemoveDirAndTarget(runDir); err != nil {
        return err
    }
    removeEmptyParents(runDir, RunRoot())
    return nil
}

func cleanUsingGlob(runDir string, rmDirs map[string]struct{}) error {
    patterns := make([]string, 0, len(rmDirs))
    for pattern := range rmDirs {
        patterns = append(patterns, pattern)
    }
    sort.Strings(patterns)

    for _, pattern := range patterns {
        dirsOnly := strings.HasSuffix(pattern, "/")
        fullPattern := filepath.Join(runDir, pattern)
        matches, err := filepath.Glob(fullPattern)
        if err != nil {
            return errcat.Errorf(ErrUserInput, "bad --rm pattern %q: %s", pattern, err)
        }
        if len(matches) == 0 {
            slog.Debug("no files matching pattern", "pattern", pattern, "runDir", runDir)
            continue
        }

        for _, match := range matches {
            rel, err := filepath.Rel(runDir, match)
            if err != nil || rel == "." || rel == ".." ||
                strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
                return errcat.Errorf(
                    ErrUserInput, "refusing to remove %s: outside %s", match, runDir,
                )
            }

            linkInfo, err := os.Lstat(match)
            if err != nil {
                // Already gone with an earlier match.
                continue
            }
            isLink := linkInfo.Mode()&os.ModeSymlink != 0
            targetInfo, statErr := os.Stat(match)
            isDir := statErr == nil && targetInfo.IsDir()
            if dirsOnly && !isDir {
                continue
            }

            if isLink && isDir {
                err = RemoveDirAndTarget(match)
            } else {
                err = RemoveDirOrFile(match)
            }
            if err != nil {
                return err
            }
        }
    }
    return nil
}

// removeEmptyParents walks up from path towards root, removing each
// parent dir until one is not empty. root itself is kept.
func removeEmptyParents(path, root string) {
    root = filepath.Clean(root)
    for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root+"/"); dir = filepath.Dir(dir) {
        if err := os.Remove(dir); err != nil {
            return
        }
        slog.Debug("removed empty parent dir", "dir", dir)
    }
}
