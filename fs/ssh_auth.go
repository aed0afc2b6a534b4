package fs

import (
    "fmt"
    "log/slog"
    "net"
    "os"
    "os/user"
    "path/filepath"

    "golang.org/x/crypto/ssh"
    "golang.org/x/crypto/ssh/agent"
    "golang.org/x/crypto/ssh/knownhosts"
)

func clientConfig(sshUser string) (*ssh.ClientConfig, error) {
    authMethods, err := BuildAuthMethods()
    if err != nil {
        return nil, fmt.Errorf("ssh auth error: %s", err)
    }

    hostKeyCallback, err := getHostKeyCallback()
    if err != nil {
        return nil, fmt.Errorf("error getting host keys: %s", err)
    }

    return &ssh.ClientConfig{
        User:            sshUser,
        Auth:            authMethods,
        HostKeyCallback: hostKeyCallback,
    }, nil
}

// Try agent first, then all keys in ~/.ssh/
func BuildAuthMethods() ([]ssh.AuthMethod, error) {
    var methods []ssh.AuthMethod
    if am, ok := getAgentAuth(); ok {
        methods = append(methods, am)
    }

    keyAuth, err := getAllKeyAuth()
    if err != nil {
        return nil, err
    }
    if keyAuth != nil {
        methods = append(methods, keyAuth)
    }

    if len(methods) == 0 {
        return nil, fmt.Errorf("no usable SSH auth methods found")
    }
    return methods, nil
}

func getAgentAuth() (ssh.AuthMethod, bool) {
    sock := os.Getenv("SSH_AUTH_SOCK")
    if sock == "" {
        return nil, false
    }
    conn, err := net.Dial("unix", sock)
    if err != nil {
        return nil, false
    }
    ag := agent.NewClient(conn)
    signers, err := ag.Signers()
    if err != nil || len(signers) == 0 {
        return nil, false
    }
    return ssh.PublicKeys(signers...), true
}

// Load all usable keys from ~/.ssh/, skipping passphrase-protected ones.
func getAllKeyAuth() (ssh.AuthMethod, error) {
    usr, err := user.Current()
    if err != nil {
        return nil, err
    }
    sshDir := filepath.Join(usr.HomeDir, ".ssh")
    entries, err := os.ReadDir(sshDir)
    if err != nil {
        return nil, err
    }

    var signers []ssh.Signer
    for _, e := range entries {
        if e.IsDir() {
            continue
        }
        path := filepath.Join(sshDir, e.Name())
        data, err := os.ReadFile(path)
        if err != nil {
            continue // unreadable
        }

        signer, err := ssh.ParsePrivateKey(data)
        if err != nil {
            // Public keys, known_hosts and config land here too.
            slog.Debug("skipping unusable private key", "path", path, "error", err)
            continue
        }
        signers = append(signers, signer)
    }

    if len(signers) == 0 {
        return nil, nil
    }
    return ssh.PublicKeys(signers...), nil
}

// host key verification from known_hosts
func getHostKeyCallback() (ssh.HostKeyCallback, error) {
    usr, err := user.Current()
    if err != nil {
        return nil, err
    }
    khPath := filepath.Join(usr.HomeDir, ".ssh", "known_hosts")
    return knownhosts.New(khPath)
}
