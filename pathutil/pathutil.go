package pathutil

import (
    "os"
    "path"
    "path/filepath"
    "regexp"
    "strings"

    "github.com/warpfork/go-errcat"
)

const (
    runDirName      = "cylc-run"
    remoteRunRoot   = "$HOME/" + runDirName
    jobDirSuffix    = "log/job"
    logDirSuffix    = "log/workflow"
    cfgLogDirSuffix = "log/flow-config"
    shareDirSuffix  = "share"
    workDirSuffix   = "work"
    logNameSuffix   = "log/workflow/log"
    testLogSuffix   = "log/workflow/reftest.log"
    pubDBSuffix     = "log/db"
)

// Same syntax as a POSIX shell: $NAME or ${NAME}.
var envVarRe = regexp.MustCompile(`\$(\w+|\{[^}]*\})`)

// ExpandPath expands a leading ~ and any $VAR / ${VAR} references.
// References to unset variables are left exactly as written so that
// whoever consumes the path sees them fail loudly.
func ExpandPath(p string) string {
    if p == "~" || strings.HasPrefix(p, "~/") {
        if home, err := os.UserHomeDir(); err == nil {
            p = home + p[1:]
        }
    }

    return envVarRe.ReplaceAllStringFunc(p, func(ref string) string {
        name := strings.TrimSuffix(strings.TrimPrefix(ref[1:], "{"), "}")
        if val, ok := os.LookupEnv(name); ok {
            return val
        }
        return ref
    })
}

// unexpandedVar returns the first $VAR reference left in p, if any.
func unexpandedVar(p string) (string, bool) {
    if ref := envVarRe.FindString(p); ref != "" {
        return ref, true
    }
    if strings.Contains(p, "$") {
        return "$", true
    }
    return "", false
}

func RunRoot() string {
    return ExpandPath("~/" + runDirName)
}

func joinRunDir(id string, suffix string, subPath []string) string {
    parts := []string{RunRoot(), id}
    if suffix != "" {
        parts = append(parts, suffix)
    }
    return filepath.Join(append(parts, subPath...)...)
}

func RunDir(id string, subPath ...string) string {
    return joinRunDir(id, "", subPath)
}

func JobDir(id string, subPath ...string) string {
    return joinRunDir(id, jobDirSuffix, subPath)
}

func LogDir(id string, subPath ...string) string {
    return joinRunDir(id, logDirSuffix, subPath)
}

func ConfigLogDir(id string, subPath ...string) string {
    return joinRunDir(id, cfgLogDirSuffix, subPath)
}

func ShareDir(id string, subPath ...string) string {
    return joinRunDir(id, shareDirSuffix, subPath)
}

func ShareCycleDir(id string, subPath ...string) string {
    return joinRunDir(id, string(RoleShareCycle), subPath)
}

func WorkDir(id string, subPath ...string) string {
    return joinRunDir(id, workDirSuffix, subPath)
}

func LogName(id string) string {
    return joinRunDir(id, logNameSuffix, nil)
}

func TestLogName(id string) string {
    return joinRunDir(id, testLogSuffix, nil)
}

func PubDBName(id string) string {
    return joinRunDir(id, pubDBSuffix, nil)
}

// The remote variants keep $HOME unexpanded; the shell on the job host
// resolves it.

func RemoteRunDir(id string, subPath ...string) string {
    return path.Join(append([]string{remoteRunRoot, id}, subPath...)...)
}

func RemoteJobDir(id string, subPath ...string) string {
    return path.Join(append([]string{remoteRunRoot, id, jobDirSuffix}, subPath...)...)
}

func ValidateWorkflowID(id string) error {
    if strings.TrimSpace(id) == "" {
        return errcat.Errorf(ErrUserInput, "workflow ID cannot be blank")
    }
    if filepath.IsAbs(id) {
        return errcat.Errorf(ErrUserInput, "workflow ID cannot be an absolute path: %s", id)
    }
    cleaned := filepath.Clean(id)
    if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
        return errcat.Errorf(
            ErrUserInput, "workflow ID cannot point outside %s: %s", runDirName, id,
        )
    }
    return nil
}
