package main

import (
    "log"
    "log/slog"
    "os"

    "go-jobenv/batchsys"
    "go-jobenv/fs"
    "go-jobenv/parsing"
    "go-jobenv/workflow"

    "go.temporal.io/sdk/client"
    temporalLog "go.temporal.io/sdk/log"
    "go.temporal.io/sdk/worker"
)

func getenvDefault(key, fallback string) string {
    if val := os.Getenv(key); val != "" {
        return val
    }
    return fallback
}

func newHost(platform parsing.PlatformConfig) (fs.Host, func()) {
    if !platform.IsRemote() {
        return fs.LocalFS{}, func() {}
    }

    sshFS, err := fs.NewSshFS(platform)
    if err != nil {
        log.Fatalf("invalid ssh settings for platform %s: %s\n", platform.Name, err)
    }
    if err := sshFS.Connect(); err != nil {
        log.Fatalf("unable to connect to %s: %s\n", sshFS.Addr, err)
    }
    return sshFS, sshFS.Close
}

func main() {
    cfgPath := os.Getenv("JOBENV_GLOBAL_CONFIG")
    if cfgPath == "" {
        log.Fatalln("JOBENV_GLOBAL_CONFIG must point at the global config file")
    }
    cfg, err := parsing.LoadGlobalConfig(cfgPath)
    if err != nil {
        log.Fatalf("failed to load global config: %s\n", err)
    }

    platformName := getenvDefault("JOBENV_PLATFORM", "localhost")
    platform, ok := cfg.Platform(platformName)
    if !ok {
        log.Fatalf("platform %q is not defined in %s\n", platformName, cfgPath)
    }

    kind, err := batchsys.ParseKind(platform.JobRunner)
    if err != nil {
        log.Fatalf("platform %s: %s\n", platform.Name, err)
    }
    handler, err := batchsys.New(kind)
    if err != nil {
        log.Fatalf("platform %s: %s\n", platform.Name, err)
    }

    host, closeHost := newHost(platform)
    defer closeHost()

    logger := temporalLog.NewStructuredLogger(slog.New(slog.NewTextHandler(os.Stdout,
        &slog.HandlerOptions{
            Level: slog.LevelWarn,
        },
    )))
    c, err := client.NewLazyClient(client.Options{
        Logger: logger,
    })
    if err != nil {
        log.Fatalln("Unable to create Temporal client", err)
    }
    defer c.Close()

    a := &workflow.JobRunnerActivity{
        Host:     host,
        Handler:  handler,
        Config:   cfg,
        Platform: platform,
    }
    queue := getenvDefault("JOBENV_QUEUE", workflow.QueueName(platform))
    if err := workflow.StartWorker(c, queue, a, worker.InterruptCh()); err != nil {
        log.Fatalln("Unable to start worker", err)
    }
}
