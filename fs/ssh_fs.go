package fs

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net"
    "path"
    "strings"
    "sync"

    "go-jobenv/parsing"
    "go-jobenv/pathutil"

    "github.com/kballard/go-shellquote"
    "golang.org/x/crypto/ssh"
)

const defaultSshPort = "22"

// SshFS runs commands on a remote login node over one shared SSH
// connection, redialling when the connection drops. Files go over rsync.
type SshFS struct {
    User         string
    Addr         string
    TransferAddr string
    CmdPrefix    *string

    mtx        sync.RWMutex
    client     *ssh.Client
    connConfig *ssh.ClientConfig
    // Runs rsync; swapped out in tests.
    runLocal func(context.Context, []string) (CmdOut, error)
}

func NewSshFS(platform parsing.PlatformConfig) (*SshFS, error) {
    if !platform.IsRemote() {
        return nil, fmt.Errorf("platform %q has no ssh_addr", platform.Name)
    }
    connConfig, err := clientConfig(platform.SshUser)
    if err != nil {
        return nil, err
    }
    return newSshFS(platform, connConfig), nil
}

func newSshFS(platform parsing.PlatformConfig, connConfig *ssh.ClientConfig) *SshFS {
    addr := withDefaultPort(platform.SshAddr)
    transferAddr := platform.TransferAddr
    if transferAddr == "" {
        transferAddr = addr
    }
    return &SshFS{
        User:         platform.SshUser,
        Addr:         addr,
        TransferAddr: withDefaultPort(transferAddr),
        CmdPrefix:    platform.CmdPrefix,
        connConfig:   connConfig,
        runLocal:     LocalFS{}.RunCmd,
    }
}

func withDefaultPort(addr string) string {
    if _, _, err := net.SplitHostPort(addr); err == nil {
        return addr
    }
    return net.JoinHostPort(addr, defaultSshPort)
}

func (s *SshFS) IsRemote() bool {
    return true
}

// Connect dials eagerly so that bad credentials show up at startup
// rather than on the first job.
func (s *SshFS) Connect() error {
    _, err := s.ensureConnected()
    return err
}

func (s *SshFS) ensureConnected() (*ssh.Client, error) {
    s.mtx.RLock()
    c := s.client
    s.mtx.RUnlock()

    if c != nil {
        return c, nil
    }

    s.mtx.Lock()
    defer s.mtx.Unlock()
    // Handle case where another goroutine already reconnected.
    if s.client != nil {
        return s.client, nil
    }

    client, err := ssh.Dial("tcp", s.Addr, s.connConfig)
    if err != nil {
        return nil, fmt.Errorf("error connecting to %s@%s: %s", s.User, s.Addr, err)
    }
    slog.Info("ssh connection established", "user", s.User, "addr", s.Addr)
    s.client = client
    return client, nil
}

// dropClient forgets stale, unless another goroutine has already
// replaced it.
func (s *SshFS) dropClient(stale *ssh.Client) {
    s.mtx.Lock()
    defer s.mtx.Unlock()
    if s.client == stale {
        s.client.Close()
        s.client = nil
    }
}

func (s *SshFS) Close() {
    s.mtx.Lock()
    defer s.mtx.Unlock()
    if s.client != nil {
        s.client.Close()
        s.client = nil
    }
}

func (s *SshFS) newSession() (*ssh.Session, error) {
    client, err := s.ensureConnected()
    if err != nil {
        return nil, err
    }
    session, err := client.NewSession()
    if err == nil {
        return session, nil
    }

    // If we can't create session, try resetting client.
    slog.Warn("ssh session failed, reconnecting", "addr", s.Addr, "error", err)
    s.dropClient(client)
    client, err = s.ensureConnected()
    if err != nil {
        return nil, fmt.Errorf("error reconnecting to ssh: %s", err)
    }
    session, err = client.NewSession()
    if err != nil {
        return nil, fmt.Errorf("error getting ssh session: %s", err)
    }
    return session, nil
}

func (s *SshFS) RunCmd(ctx context.Context, argv []string) (CmdOut, error) {
    if len(argv) == 0 {
        return CmdOut{}, fmt.Errorf("empty command")
    }
    session, err := s.newSession()
    if err != nil {
        return CmdOut{}, err
    }
    defer session.Close()

    var stdout, stderr bytes.Buffer
    session.Stdout = &stdout
    session.Stderr = &stderr

    cmdLine := remoteCmdLine(s.CmdPrefix, argv)
    done := make(chan error, 1)
    go func() {
        done <- session.Run(cmdLine)
    }()

    select {
    case err = <-done:
    case <-ctx.Done():
        session.Signal(ssh.SIGKILL)
        session.Close()
        <-done
        return CmdOut{StdOut: stdout.String(), StdErr: stderr.String()}, ctx.Err()
    }

    exitCode := 0
    if err != nil {
        var exitErr *ssh.ExitError
        if errors.As(err, &exitErr) {
            exitCode = exitErr.ExitStatus()
        }
    }
    slog.Debug("ran remote command", "addr", s.Addr, "cmd", cmdLine, "exitCode", exitCode)

    return CmdOut{
        ExitCode: exitCode,
        StdOut:   stdout.String(),
        StdErr:   stderr.String(),
    }, err
}

// Upload copies src to dst on the remote host with rsync. A leading
// $HOME/ in dst is dropped; rsync resolves relative remote paths against
// the remote home dir.
func (s *SshFS) Upload(ctx context.Context, src, dst string) error {
    argv := s.rsyncArgv(src, dst)
    out, err := s.runLocal(ctx, argv)
    if err != nil {
        return CmdError(argv, out, err)
    }
    return nil
}

func (s *SshFS) rsyncArgv(src, dst string) []string {
    host, port, err := net.SplitHostPort(s.TransferAddr)
    if err != nil {
        host, port = s.TransferAddr, defaultSshPort
    }
    sshCmd := "ssh"
    if port != defaultSshPort {
        sshCmd = "ssh -p " + port
    }
    remoteDst := strings.TrimPrefix(dst, "$HOME/")
    return []string{
        "rsync", "--mkpath", "-a", "-e", sshCmd,
        src, fmt.Sprintf("%s@%s:%s", s.User, host, remoteDst),
    }
}

// MakeRemoteRunTree creates the run tree on the remote host, including the
// configured symlinks. Environment variables in symlink targets are
// expanded by the remote shell.
func (s *SshFS) MakeRemoteRunTree(
    ctx context.Context, id string, symlinks map[pathutil.RunTreeRole]string,
) error {
    if err := pathutil.ValidateWorkflowID(id); err != nil {
        return err
    }
    argv := []string{"sh", "-c", remoteRunTreeScript(id, symlinks)}
    out, err := s.RunCmd(ctx, argv)
    if err != nil {
        return CmdError(argv, out, err)
    }
    return nil
}

// Escapes for use inside "...": $ stays live so the remote shell expands
// variables in symlink targets.
var dquoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")

func remoteRunTreeScript(id string, symlinks map[pathutil.RunTreeRole]string) string {
    steps := make([]string, 0, len(symlinks)+1)
    for _, role := range pathutil.AllRoles {
        target, ok := symlinks[role]
        if !ok {
            continue
        }
        target = dquoteEscaper.Replace(target)
        link := dquoteEscaper.Replace(pathutil.RemoteRunDir(id, role.RelPath()))
        steps = append(steps, fmt.Sprintf(
            `mkdir -p "%s" "%s" && { [ -e "%s" ] || [ -L "%s" ] || ln -s "%s" "%s"; }`,
            target, path.Dir(link), link, link, target, link,
        ))
    }
    steps = append(steps, fmt.Sprintf(
        `mkdir -p "%s" "%s"`,
        dquoteEscaper.Replace(pathutil.RemoteRunDir(id)),
        dquoteEscaper.Replace(pathutil.RemoteJobDir(id)),
    ))
    return strings.Join(steps, " && ")
}

// remoteCmdLine quotes argv for the remote shell. A leading $HOME/ is left
// for the remote shell to expand.
func remoteCmdLine(prefix *string, argv []string) string {
    parts := make([]string, len(argv))
    for i, arg := range argv {
        if rest, ok := strings.CutPrefix(arg, "$HOME/"); ok {
            parts[i] = `"$HOME"/` + shellquote.Join(rest)
            continue
        }
        parts[i] = shellquote.Join(arg)
    }

    line := strings.Join(parts, " ")
    if prefix != nil && *prefix != "" {
        line = *prefix + " " + line
    }
    return line
}
