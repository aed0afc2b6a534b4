package pathutil

import (
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "strings"

    "go-jobenv/parsing"

    "github.com/warpfork/go-errcat"
)

type RunTreeRole string

const (
    RoleRun        RunTreeRole = "run"
    RoleLog        RunTreeRole = "log"
    RoleShare      RunTreeRole = "share"
    RoleShareCycle RunTreeRole = "share/cycle"
    RoleWork       RunTreeRole = "work"
)

// AllRoles is the order links are created in: a parent role always comes
// before any role nested inside it.
var AllRoles = []RunTreeRole{RoleRun, RoleLog, RoleShare, RoleShareCycle, RoleWork}

// RelPath is the role's location relative to the run dir.
func (r RunTreeRole) RelPath() string {
    if r == RoleRun {
        return ""
    }
    return string(r)
}

// DirsToSymlink works out which run-tree roles need a symlink for the given
// install target. A role configured with the same target as "run" already
// lives inside the symlinked run dir and is dropped. Environment variables
// in the returned paths are left unexpanded.
func DirsToSymlink(
    cfg *parsing.GlobalConfig, installTarget, id string,
) map[RunTreeRole]string {
    dirs := make(map[RunTreeRole]string)
    group, ok := cfg.SymlinkGroup(installTarget)
    if !ok {
        return dirs
    }

    baseDir := strings.TrimSpace(group.Target(string(RoleRun)))
    if baseDir != "" {
        dirs[RoleRun] = filepath.Join(baseDir, runDirName, id)
    }

    for _, role := range AllRoles[1:] {
        link := strings.TrimSpace(group.Target(string(role)))
        if link == "" || link == baseDir {
            continue
        }
        dirs[role] = filepath.Join(link, runDirName, id, role.RelPath())
    }
    return dirs
}

// MakeLocalhostSymlinks creates the configured symlinks for a run dir on
// this host and returns a map of expanded target -> link path for the links
// it actually created.
func MakeLocalhostSymlinks(
    cfg *parsing.GlobalConfig, runDir, id string,
) (map[string]string, error) {
    created := make(map[string]string)
    dirs := DirsToSymlink(cfg, parsing.LocalhostInstallTarget, id)

    for _, role := range AllRoles {
        value, ok := dirs[role]
        if !ok {
            continue
        }

        linkPath := filepath.Join(runDir, role.RelPath())
        target := ExpandPath(value)
        if token, bad := unexpandedVar(target); bad {
            return created, errcat.Errorf(
                ErrConfiguration,
                "Unable to create symlink to %s. '%s' contains an invalid "+
                    "environment variable (%s). Please check configuration.",
                target, value, token,
            )
        }

        made, err := MakeSymlink(linkPath, target)
        if err != nil {
            return created, err
        }
        if made {
            created[target] = linkPath
        }
    }
    return created, nil
}

// MakeSymlink links path -> target, creating target (and the parent of
// path) if needed. It returns false without error if the link already
// exists and points at target.
func MakeSymlink(path, target string) (bool, error) {
    if info, err := os.Stat(target); err == nil && !info.IsDir() {
        return false, errcat.Errorf(
            ErrFilesystemState,
            "symlink target %s exists and is not a directory", target,
        )
    }

    if info, err := os.Lstat(path); err == nil {
        if info.Mode()&os.ModeSymlink == 0 {
            return false, errcat.Errorf(
                ErrFilesystemState,
                "cannot symlink %s -> %s: path already exists", path, target,
            )
        }

        existing, err := os.Readlink(path)
        if err != nil {
            return false, fmt.Errorf("failed to read symlink %s: %w", path, err)
        }
        if filepath.Clean(existing) == filepath.Clean(target) {
            if err := os.MkdirAll(target, 0o755); err != nil {
                return false, fmt.Errorf("failed to create dir %s: %w", target, err)
            }
            return false, nil
        }

        if _, err := os.Stat(path); err == nil {
            return false, errcat.Errorf(
                ErrFilesystemState,
                "cannot symlink %s -> %s: it already links to %s",
                path, target, existing,
            )
        }
        slog.Debug("replacing broken symlink", "path", path, "oldTarget", existing)
        if err := os.Remove(path); err != nil {
            return false, fmt.Errorf("failed to remove broken symlink %s: %w", path, err)
        }
    } else if !os.IsNotExist(err) {
        return false, fmt.Errorf("failed to stat %s: %w", path, err)
    }

    if err := os.MkdirAll(target, 0o755); err != nil {
        return false, fmt.Errorf("failed to create dir %s: %w", target, err)
    }
    parent := filepath.Dir(path)
    if err := os.MkdirAll(parent, 0o755); err != nil {
        return false, fmt.Errorf("failed to create dir %s: %w", parent, err)
    }
    if err := os.Symlink(target, path); err != nil {
        return false, fmt.Errorf("failed to symlink %s -> %s: %w", path, target, err)
    }

    slog.Debug("symlink created", "path", path, "target", target)
    return true, nil
}

// MakeRunTree creates the standard run tree for a workflow, honouring the
// localhost symlink configuration. Nothing is rolled back on failure;
// running it again once the cause is fixed is safe.
func MakeRunTree(cfg *parsing.GlobalConfig, id string) error {
    if err := ValidateWorkflowID(id); err != nil {
        return err
    }

    runDir := RunDir(id)
    if _, err := MakeLocalhostSymlinks(cfg, runDir, id); err != nil {
        return err
    }

    for _, dir := range []string{
        runDir, LogDir(id), JobDir(id), ConfigLogDir(id), ShareDir(id), WorkDir(id),
    } {
        if err := os.MkdirAll(dir, 0o755); err != nil {
            return fmt.Errorf("failed to create dir %s: %w", dir, err)
        }
        slog.Debug("directory created", "workflow", id, "dir", dir)
    }
    return nil
}
