package parsing

import (
    "errors"
    "fmt"
    "path"
    "strings"

    "github.com/hashicorp/hcl/v2"
    "github.com/hashicorp/hcl/v2/gohcl"
    "github.com/hashicorp/hcl/v2/hclparse"
    "github.com/zclconf/go-cty/cty"
    "github.com/zclconf/go-cty/cty/convert"
)

const LocalhostInstallTarget = "localhost"

// SymlinkDirs is one `symlink_dirs "<install target>"` group. Targets are
// kept exactly as written; environment variables in them are resolved by
// whoever creates the links, not here.
type SymlinkDirs struct {
    Name       string `hcl:"name,label"`
    Run        string `hcl:"run,optional"`
    Log        string `hcl:"log,optional"`
    Share      string `hcl:"share,optional"`
    ShareCycle string `hcl:"share_cycle,optional"`
    Work       string `hcl:"work,optional"`
}

// Target returns the configured target expression for a run-tree role
// ("run", "log", "share", "share/cycle" or "work").
func (s SymlinkDirs) Target(role string) string {
    switch role {
    case "run":
        return s.Run
    case "log":
        return s.Log
    case "share":
        return s.Share
    case "share/cycle":
        return s.ShareCycle
    case "work":
        return s.Work
    }
    return ""
}

type PlatformConfig struct {
    Name          string         `hcl:"name,label"`
    Hosts         []string       `hcl:"hosts,optional"`
    JobRunner     string         `hcl:"job_runner,optional"`
    InstallTarget string         `hcl:"install_target,optional"`
    SshUser       string         `hcl:"ssh_user,optional"`
    SshAddr       string         `hcl:"ssh_addr,optional"`
    TransferAddr  string         `hcl:"transfer_addr,optional"`
    CmdPrefix     *string        `hcl:"cmd_prefix,optional"`
    RawDirectives hcl.Expression `hcl:"directives,optional"`

    // Decoded from RawDirectives, in source order.
    Directives Directives
}

type installBlock struct {
    SymlinkDirs []*SymlinkDirs `hcl:"symlink_dirs,block"`
}

type hclGlobalFile struct {
    Install   *installBlock     `hcl:"install,block"`
    Platforms []*PlatformConfig `hcl:"platform,block"`
}

// GlobalConfig is loaded once at process start and passed explicitly to
// everything that needs it. Nothing mutates it after LoadGlobalConfig.
type GlobalConfig struct {
    SymlinkDirs []SymlinkDirs
    Platforms   []PlatformConfig
}

func LoadGlobalConfig(filePath string) (*GlobalConfig, error) {
    parser := hclparse.NewParser()
    hclFile, diags := parser.ParseHCLFile(filePath)
    if diags.HasErrors() {
        return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
    }
    return decodeGlobalConfig(hclFile, filePath)
}

func ParseGlobalConfig(src []byte, filename string) (*GlobalConfig, error) {
    parser := hclparse.NewParser()
    hclFile, diags := parser.ParseHCL(src, filename)
    if diags.HasErrors() {
        return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
    }
    return decodeGlobalConfig(hclFile, filename)
}

func decodeGlobalConfig(hclFile *hcl.File, filename string) (*GlobalConfig, error) {
    var parsedFile hclGlobalFile
    diags := gohcl.DecodeBody(hclFile.Body, nil, &parsedFile)
    if diags.HasErrors() {
        return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
    }

    cfg := &GlobalConfig{}
    if parsedFile.Install != nil {
        for _, group := range parsedFile.Install.SymlinkDirs {
            cfg.SymlinkDirs = append(cfg.SymlinkDirs, *group)
        }
    }

    for _, platform := range parsedFile.Platforms {
        directives, diags := decodeDirectives(platform.RawDirectives)
        if diags.HasErrors() {
            return nil, fmt.Errorf(
                "invalid directives for platform %q in %s: %w",
                platform.Name, filename, diags,
            )
        }
        platform.Directives = directives
        if platform.InstallTarget == "" {
            platform.InstallTarget = platform.Name
        }
        cfg.Platforms = append(cfg.Platforms, *platform)
    }

    if err := cfg.Validate(); err != nil {
        return nil, fmt.Errorf("invalid global config %s: %w", filename, err)
    }
    return cfg, nil
}

// decodeDirectives walks an object expression in source order, since a
// plain map would lose the ordering schedulers rely on.
func decodeDirectives(expr hcl.Expression) (Directives, hcl.Diagnostics) {
    if expr == nil {
        return nil, nil
    }
    val, diags := expr.Value(nil)
    if diags.HasErrors() {
        return nil, diags
    }
    if val.IsNull() {
        return nil, nil
    }

    pairs, diags := hcl.ExprMap(expr)
    if diags.HasErrors() {
        return nil, diags
    }

    out := make(Directives, 0, len(pairs))
    for _, pair := range pairs {
        key, keyDiags := ctyString(pair.Key)
        diags = append(diags, keyDiags...)
        value, valueDiags := ctyString(pair.Value)
        diags = append(diags, valueDiags...)
        if diags.HasErrors() {
            return nil, diags
        }
        out = out.Set(key, value)
    }
    return out, diags
}

func ctyString(expr hcl.Expression) (string, hcl.Diagnostics) {
    val, diags := expr.Value(nil)
    if diags.HasErrors() {
        return "", diags
    }
    if val.IsNull() {
        return "", nil
    }

    strVal, err := convert.Convert(val, cty.String)
    if err != nil {
        return "", hcl.Diagnostics{{
            Severity: hcl.DiagError,
            Summary:  "Invalid directive",
            Detail:   fmt.Sprintf("Directive keys and values must be strings: %s.", err),
            Subject:  expr.Range().Ptr(),
        }}
    }
    return strVal.AsString(), nil
}

func (cfg *GlobalConfig) Validate() error {
    var errorMessages []string

    seenGroups := make(map[string]struct{})
    for _, group := range cfg.SymlinkDirs {
        if _, dup := seenGroups[group.Name]; dup {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "duplicate symlink_dirs group %q", group.Name,
            ))
        }
        seenGroups[group.Name] = struct{}{}

        if _, err := path.Match(group.Name, ""); err != nil {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "symlink_dirs group %q is not a valid host pattern: %s",
                group.Name, err,
            ))
        }
    }

    seenPlatforms := make(map[string]struct{})
    for _, platform := range cfg.Platforms {
        if _, dup := seenPlatforms[platform.Name]; dup {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "duplicate platform %q", platform.Name,
            ))
        }
        seenPlatforms[platform.Name] = struct{}{}

        if platform.JobRunner == "" {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "platform %q missing required field 'job_runner'", platform.Name,
            ))
        }
        if platform.SshAddr != "" && platform.SshUser == "" {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "platform %q sets 'ssh_addr' without 'ssh_user'", platform.Name,
            ))
        }
    }

    if len(errorMessages) > 0 {
        return errors.New(strings.Join(errorMessages, "\n"))
    }
    return nil
}

// SymlinkGroup finds the symlink_dirs group for an install target: an exact
// name match wins, otherwise the first group whose name matches as a glob.
func (cfg *GlobalConfig) SymlinkGroup(installTarget string) (SymlinkDirs, bool) {
    if cfg == nil {
        return SymlinkDirs{}, false
    }
    for _, group := range cfg.SymlinkDirs {
        if group.Name == installTarget {
            return group, true
        }
    }
    for _, group := range cfg.SymlinkDirs {
        if ok, _ := path.Match(group.Name, installTarget); ok {
            return group, true
        }
    }
    return SymlinkDirs{}, false
}

func (cfg *GlobalConfig) Platform(name string) (PlatformConfig, bool) {
    if cfg == nil {
        return PlatformConfig{}, false
    }
    for _, platform := range cfg.Platforms {
        if platform.Name == name {
            return platform, true
        }
    }
    return PlatformConfig{}, false
}

// IsRemote reports whether jobs for this platform run over SSH.
func (p PlatformConfig) IsRemote() bool {
    return p.SshAddr != ""
}
