package workflow

import (
    "fmt"
    "log/slog"
    "os/exec"

    "go-jobenv/parsing"

    "go.temporal.io/sdk/client"
    "go.temporal.io/sdk/worker"
)

func checkDeps(a *JobRunnerActivity) error {
    if !a.Host.IsRemote() {
        return nil
    }
    if _, err := exec.LookPath("rsync"); err != nil {
        return fmt.Errorf("missing required binary rsync")
    }
    return nil
}

// QueueName is the default task queue for a platform's worker.
func QueueName(platform parsing.PlatformConfig) string {
    if platform.IsRemote() {
        return fmt.Sprintf("%s@%s", platform.SshUser, platform.SshAddr)
    }
    return "jobenv-" + platform.Name
}

func StartWorker(
    c client.Client, queueName string, a *JobRunnerActivity,
    cancelChan <-chan interface{},
) error {
    if err := checkDeps(a); err != nil {
        return err
    }

    w := worker.New(c, queueName, worker.Options{
        MaxConcurrentActivityExecutionSize: 3,
    })
    w.RegisterWorkflow(JobPollerWorkflow)
    w.RegisterActivity(a.ProvisionRunTreeActivity)
    w.RegisterActivity(a.SubmitJobActivity)
    w.RegisterActivity(a.PollJobsActivity)
    w.RegisterActivity(a.KillJobsActivity)
    w.RegisterActivity(a.CleanRunDirActivity)

    slog.Info(
        "Starting worker", "queue", queueName,
        "platform", a.Platform.Name, "runner", a.Handler.Name(),
    )
    if err := w.Run(cancelChan); err != nil {
        return fmt.Errorf("unable to start worker: %w", err)
    }
    return nil
}
