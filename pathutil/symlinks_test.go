package pathutil

import (
    "os"
    "path/filepath"
    "testing"

    "go-jobenv/parsing"

    "github.com/google/go-cmp/cmp"
    "github.com/stretchr/testify/require"
    "github.com/warpfork/go-errcat"
)

func mustParseConfig(t *testing.T, src string) *parsing.GlobalConfig {
    t.Helper()
    cfg, err := parsing.ParseGlobalConfig([]byte(src), "global.hcl")
    require.NoError(t, err)
    return cfg
}

func TestDirsToSymlink(t *testing.T) {
    // Set, but results must stay unexpanded.
    t.Setenv("DEE", "poiuytrewq")

    var testCases = []struct {
        name     string
        config   string
        expected map[RunTreeRole]string
    }{
        {
            name: "basic",
            config: `
install {
  symlink_dirs "the_matrix" {
    run         = "$DEE"
    work        = "$DAH"
    log         = "$DUH"
    share       = "$DOH"
    share_cycle = "$DAH"
  }
}`,
            expected: map[RunTreeRole]string{
                RoleRun:        "$DEE/cylc-run/morpheus",
                RoleWork:       "$DAH/cylc-run/morpheus/work",
                RoleLog:        "$DUH/cylc-run/morpheus/log",
                RoleShare:      "$DOH/cylc-run/morpheus/share",
                RoleShareCycle: "$DAH/cylc-run/morpheus/share/cycle",
            },
        },
        {
            name: "remove nested run symlinks",
            config: `
install {
  symlink_dirs "the_matrix" {
    run         = "$DEE"
    work        = "$DAH"
    log         = "$DEE"
    share       = "$DOH"
    share_cycle = "$DAH"
  }
}`,
            expected: map[RunTreeRole]string{
                RoleRun:        "$DEE/cylc-run/morpheus",
                RoleWork:       "$DAH/cylc-run/morpheus/work",
                RoleShare:      "$DOH/cylc-run/morpheus/share",
                RoleShareCycle: "$DAH/cylc-run/morpheus/share/cycle",
            },
        },
        {
            name: "remove only nested run symlinks",
            config: `
install {
  symlink_dirs "the_matrix" {
    run   = "$DOH"
    log   = "$DEE"
    share = "$DEE"
  }
}`,
            expected: map[RunTreeRole]string{
                RoleRun:   "$DOH/cylc-run/morpheus",
                RoleLog:   "$DEE/cylc-run/morpheus/log",
                RoleShare: "$DEE/cylc-run/morpheus/share",
            },
        },
        {
            name: "blank entries",
            config: `
install {
  symlink_dirs "the_matrix" {
    run   = ""
    log   = ""
    share = "   "
    work  = " "
  }
}`,
            expected: map[RunTreeRole]string{},
        },
        {
            name: "no group for target",
            config: `
install {
  symlink_dirs "elsewhere" {
    run = "$DEE"
  }
}`,
            expected: map[RunTreeRole]string{},
        },
        {
            name: "glob host pattern",
            config: `
install {
  symlink_dirs "the_*" {
    work = "/scratch"
  }
}`,
            expected: map[RunTreeRole]string{
                RoleWork: "/scratch/cylc-run/morpheus/work",
            },
        },
    }

    for _, tt := range testCases {
        t.Run(tt.name, func(t *testing.T) {
            cfg := mustParseConfig(t, tt.config)
            dirs := DirsToSymlink(cfg, "the_matrix", "morpheus")
            if diff := cmp.Diff(tt.expected, dirs); diff != "" {
                t.Fatalf("DirsToSymlink mismatch (-want +got):\n%s", diff)
            }
        })
    }
}

func TestDirsToSymlinkExactMatchWins(t *testing.T) {
    cfg := mustParseConfig(t, `
install {
  symlink_dirs "*" {
    run = "/glob"
  }
  symlink_dirs "hpc" {
    run = "/exact"
  }
}`)
    dirs := DirsToSymlink(cfg, "hpc", "w")
    require.Equal(t, "/exact/cylc-run/w", dirs[RoleRun])
}

func TestMakeLocalhostSymlinks(t *testing.T) {
    tmp := t.TempDir()
    t.Setenv("DOH", filepath.Join(tmp, "doh"))
    t.Setenv("DEE", filepath.Join(tmp, "dee"))
    cfg := mustParseConfig(t, `
install {
  symlink_dirs "localhost" {
    run   = "$DOH"
    log   = "$DEE"
    share = "$DEE"
  }
}`)

    runDir := filepath.Join(tmp, "rund")
    created, err := MakeLocalhostSymlinks(cfg, runDir, "trinity")
    require.NoError(t, err)
    require.Equal(t, map[string]string{
        filepath.Join(tmp, "doh/cylc-run/trinity"):       runDir,
        filepath.Join(tmp, "dee/cylc-run/trinity/log"):   filepath.Join(runDir, "log"),
        filepath.Join(tmp, "dee/cylc-run/trinity/share"): filepath.Join(runDir, "share"),
    }, created)

    for target, link := range created {
        resolved, err := os.Readlink(link)
        require.NoError(t, err)
        require.Equal(t, target, resolved)
    }
}

func TestIncorrectEnvironmentVariablesRaiseError(t *testing.T) {
    tmp := t.TempDir()
    os.Unsetenv("DOH_NOT_SET_JOBENV")
    cfg := mustParseConfig(t, `
install {
  symlink_dirs "localhost" {
    run = "$DOH_NOT_SET_JOBENV"
  }
}`)

    _, err := MakeLocalhostSymlinks(cfg, filepath.Join(tmp, "rund"), "test_workflow")
    require.Error(t, err)
    require.Equal(t, ErrConfiguration, errcat.Category(err))
    require.Contains(t, err.Error(), "Unable to create symlink to $DOH_NOT_SET_JOBENV/cylc-run/test_workflow")
    require.Contains(t, err.Error(), "contains an invalid environment variable ($DOH_NOT_SET_JOBENV)")

    _, statErr := os.Lstat(filepath.Join(tmp, "rund"))
    require.True(t, os.IsNotExist(statErr))
}

func TestMakeSymlink(t *testing.T) {
    tmp := t.TempDir()
    target := filepath.Join(tmp, "target")
    link := filepath.Join(tmp, "parent", "link")

    made, err := MakeSymlink(link, target)
    require.NoError(t, err)
    require.True(t, made)
    require.DirExists(t, target)

    // Same link again is a no-op.
    made, err = MakeSymlink(link, target)
    require.NoError(t, err)
    require.False(t, made)

    // Pointing an existing live link somewhere else is refused.
    other := filepath.Join(tmp, "other")
    require.NoError(t, os.Mkdir(other, 0o755))
    _, err = MakeSymlink(link, other)
    require.Equal(t, ErrFilesystemState, errcat.Category(err))

    // A real dir in the way is refused.
    realDir := filepath.Join(tmp, "real")
    require.NoError(t, os.Mkdir(realDir, 0o755))
    _, err = MakeSymlink(realDir, target)
    require.Equal(t, ErrFilesystemState, errcat.Category(err))

    // A file as the target is refused.
    file := filepath.Join(tmp, "file")
    require.NoError(t, os.WriteFile(file, nil, 0o644))
    _, err = MakeSymlink(filepath.Join(tmp, "link2"), file)
    require.Equal(t, ErrFilesystemState, errcat.Category(err))
}

func TestMakeSymlinkReplacesBrokenLink(t *testing.T) {
    tmp := t.TempDir()
    link := filepath.Join(tmp, "link")
    require.NoError(t, os.Symlink(filepath.Join(tmp, "gone"), link))

    target := filepath.Join(tmp, "target")
    made, err := MakeSymlink(link, target)
    require.NoError(t, err)
    require.True(t, made)

    resolved, err := os.Readlink(link)
    require.NoError(t, err)
    require.Equal(t, target, resolved)
}

func runTreeLayout(t *testing.T, root string) map[string]string {
    t.Helper()
    layout := make(map[string]string)
    err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
        if err != nil {
            return err
        }
        rel, _ := filepath.Rel(root, p)
        switch {
        case info.Mode()&os.ModeSymlink != 0:
            target, _ := os.Readlink(p)
            layout[rel] = "link:" + target
        case info.IsDir():
            layout[rel] = "dir"
        default:
            layout[rel] = "file"
        }
        return nil
    })
    require.NoError(t, err)
    return layout
}

func TestMakeRunTree(t *testing.T) {
    home := t.TempDir()
    t.Setenv("HOME", home)

    require.NoError(t, MakeRunTree(&parsing.GlobalConfig{}, "my-workflow"))

    runDir := RunDir("my-workflow")
    for _, subdir := range []string{
        "", "log/workflow", "log/job", "log/flow-config", "share", "work",
    } {
        require.DirExists(t, filepath.Join(runDir, subdir))
    }
}

func TestMakeRunTreeWithSymlinksIsIdempotent(t *testing.T) {
    tmp := t.TempDir()
    home := filepath.Join(tmp, "home")
    t.Setenv("HOME", home)
    t.Setenv("SCRATCH", filepath.Join(tmp, "scratch"))
    t.Setenv("DATA", filepath.Join(tmp, "data"))

    cfg := mustParseConfig(t, `
install {
  symlink_dirs "localhost" {
    run         = "$SCRATCH"
    log         = "$SCRATCH"
    share       = "$DATA"
    share_cycle = "$SCRATCH/cycles"
    work        = "$DATA"
  }
}`)

    require.NoError(t, MakeRunTree(cfg, "a/b"))
    first := runTreeLayout(t, tmp)
    require.NoError(t, MakeRunTree(cfg, "a/b"))
    second := runTreeLayout(t, tmp)
    if diff := cmp.Diff(first, second); diff != "" {
        t.Fatalf("run tree changed on second provision (-first +second):\n%s", diff)
    }

    runDir := RunDir("a/b")
    require.Equal(t, "link:"+filepath.Join(tmp, "scratch/cylc-run/a/b"), first["home/cylc-run/a/b"])
    // log shares the run target, so it is a plain dir inside the linked run dir.
    require.Equal(t, "dir", first["scratch/cylc-run/a/b/log"])
    require.Equal(t, "link:"+filepath.Join(tmp, "data/cylc-run/a/b/share"), first["scratch/cylc-run/a/b/share"])
    require.Equal(t, "link:"+filepath.Join(tmp, "scratch/cycles/cylc-run/a/b/share/cycle"), first["data/cylc-run/a/b/share/cycle"])
    require.Equal(t, "link:"+filepath.Join(tmp, "data/cylc-run/a/b/work"), first["scratch/cylc-run/a/b/work"])

    // Stat, not Lstat: share/cycle is a link to a dir.
    for _, dir := range []string{
        JobDir("a/b"), LogDir("a/b"), ConfigLogDir("a/b"),
        filepath.Join(runDir, "share", "cycle"),
    } {
        info, err := os.Stat(dir)
        require.NoError(t, err)
        require.True(t, info.IsDir(), dir)
    }
}
