package fs

import (
    "context"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "go-jobenv/parsing"
    "go-jobenv/pathutil"

    "github.com/stretchr/testify/require"
)

func TestLocalRunCmd(t *testing.T) {
    var local LocalFS
    out, err := local.RunCmd(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"})
    require.NoError(t, err)
    require.Equal(t, CmdOut{ExitCode: 0, StdOut: "out\n", StdErr: "err\n"}, out)

    out, err = local.RunCmd(context.Background(), []string{"sh", "-c", "exit 3"})
    require.Error(t, err)
    require.Equal(t, 3, out.ExitCode)

    // No shell in between: metacharacters arrive untouched.
    out, err = local.RunCmd(context.Background(), []string{"echo", "$HOME", "a;b"})
    require.NoError(t, err)
    require.Equal(t, "$HOME a;b\n", out.StdOut)

    _, err = local.RunCmd(context.Background(), nil)
    require.Error(t, err)
}

func TestLocalRunCmdCancelled(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
    defer cancel()
    _, err := LocalFS{}.RunCmd(ctx, []string{"sleep", "10"})
    require.Error(t, err)
}

func TestLocalUpload(t *testing.T) {
    tmp := t.TempDir()
    src := filepath.Join(tmp, "job")
    require.NoError(t, os.WriteFile(src, []byte("#!/bin/bash\n"), 0o755))

    dst := filepath.Join(tmp, "elsewhere", "nested", "job")
    require.NoError(t, LocalFS{}.Upload(context.Background(), src, dst))
    content, err := os.ReadFile(dst)
    require.NoError(t, err)
    require.Equal(t, "#!/bin/bash\n", string(content))

    // Same file is left alone.
    require.NoError(t, LocalFS{}.Upload(context.Background(), src, src))
    content, err = os.ReadFile(src)
    require.NoError(t, err)
    require.Equal(t, "#!/bin/bash\n", string(content))
}

func strPtr(s string) *string {
    return &s
}

func TestRemoteCmdLine(t *testing.T) {
    var testCases = []struct {
        name     string
        prefix   *string
        argv     []string
        expected string
    }{
        {
            name:     "plain",
            argv:     []string{"squeue", "-h", "-j", "1234567,709394"},
            expected: "squeue -h -j 1234567,709394",
        },
        {
            name:     "home left for remote shell",
            argv:     []string{"sbatch", "$HOME/cylc-run/my flow/log/job/1/a/01/job"},
            expected: `sbatch "$HOME"/'cylc-run/my flow/log/job/1/a/01/job'`,
        },
        {
            name:     "with prefix",
            prefix:   strPtr("module load slurm &&"),
            argv:     []string{"scancel", "1", "2"},
            expected: "module load slurm && scancel 1 2",
        },
        {
            name:     "empty prefix ignored",
            prefix:   strPtr(""),
            argv:     []string{"scancel", "1"},
            expected: "scancel 1",
        },
    }

    for _, tt := range testCases {
        t.Run(tt.name, func(t *testing.T) {
            require.Equal(t, tt.expected, remoteCmdLine(tt.prefix, tt.argv))
        })
    }
}

func TestNewSshFSAddresses(t *testing.T) {
    s := newSshFS(parsing.PlatformConfig{
        Name:    "hpc",
        SshUser: "me",
        SshAddr: "login1",
    }, nil)
    require.Equal(t, "login1:22", s.Addr)
    require.Equal(t, "login1:22", s.TransferAddr)

    s = newSshFS(parsing.PlatformConfig{
        Name:         "hpc",
        SshUser:      "me",
        SshAddr:      "login1:2222",
        TransferAddr: "dtn1",
    }, nil)
    require.Equal(t, "login1:2222", s.Addr)
    require.Equal(t, "dtn1:22", s.TransferAddr)

    _, err := NewSshFS(parsing.PlatformConfig{Name: "local"})
    require.Error(t, err)
}

func TestSshUpload(t *testing.T) {
    s := newSshFS(parsing.PlatformConfig{
        Name:         "hpc",
        SshUser:      "me",
        SshAddr:      "login1",
        TransferAddr: "dtn1:2200",
    }, nil)

    var ran [][]string
    s.runLocal = func(_ context.Context, argv []string) (CmdOut, error) {
        ran = append(ran, argv)
        return CmdOut{}, nil
    }

    err := s.Upload(context.Background(), "/local/job", "$HOME/cylc-run/w/log/job/1/a/01/job")
    require.NoError(t, err)
    require.Equal(t, [][]string{{
        "rsync", "--mkpath", "-a", "-e", "ssh -p 2200",
        "/local/job", "me@dtn1:cylc-run/w/log/job/1/a/01/job",
    }}, ran)
}

func TestRemoteRunTreeScript(t *testing.T) {
    script := remoteRunTreeScript("w", nil)
    require.Equal(t, `mkdir -p "$HOME/cylc-run/w" "$HOME/cylc-run/w/log/job"`, script)

    script = remoteRunTreeScript("w", map[pathutil.RunTreeRole]string{
        pathutil.RoleWork: "$SCRATCH/cylc-run/w/work",
        pathutil.RoleRun:  "$DATA/cylc-run/w",
    })
    steps := strings.Split(script, " && { ")
    require.Len(t, steps, 3)
    // run comes before work.
    require.True(t, strings.HasPrefix(script, `mkdir -p "$DATA/cylc-run/w" "$HOME/cylc-run"`))
    require.Contains(t, script, `ln -s "$SCRATCH/cylc-run/w/work" "$HOME/cylc-run/w/work"`)
    require.True(t, strings.HasSuffix(script, `mkdir -p "$HOME/cylc-run/w" "$HOME/cylc-run/w/log/job"`))
}

func TestRemoteRunTreeScriptQuotesTargets(t *testing.T) {
    home := t.TempDir()
    data := t.TempDir()
    t.Setenv("HOME", home)
    t.Setenv("DATA", data)

    // Quotes, backslashes and backticks are literal; $DATA still expands.
    target := "$DATA/we\"ird`touch pwned`\\dir"
    script := remoteRunTreeScript("w", map[pathutil.RunTreeRole]string{
        pathutil.RoleWork: target,
    })

    var local LocalFS
    out, err := local.RunCmd(context.Background(), []string{"sh", "-c", script})
    require.NoError(t, err, out.StdErr)

    resolved, err := os.Readlink(filepath.Join(home, "cylc-run", "w", "work"))
    require.NoError(t, err)
    require.Equal(t, data+"/we\"ird`touch pwned`\\dir", resolved)
    require.DirExists(t, resolved)
    require.NoFileExists(t, "pwned")
    require.NoFileExists(t, filepath.Join(home, "pwned"))
}
