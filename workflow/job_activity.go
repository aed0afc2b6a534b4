package workflow

import (
    "context"
    "errors"
    "fmt"
    "path"
    "strings"

    "go-jobenv/batchsys"
    "go-jobenv/fs"
    "go-jobenv/parsing"
    "go-jobenv/pathutil"

    "github.com/warpfork/go-errcat"
    "go.temporal.io/sdk/activity"
    "go.temporal.io/sdk/temporal"
)

// Scheduler stderr when asked about jobs it has already forgotten.
var unknownJobMarkers = []string{"invalid job id", "unknown job id"}

// JobRunnerActivity holds everything a worker needs to act on one
// platform. Its methods are registered as Temporal activities.
type JobRunnerActivity struct {
    Host     fs.Host
    Handler  batchsys.Handler
    Config   *parsing.GlobalConfig
    Platform parsing.PlatformConfig
}

type SubmitRequest struct {
    // Echoed back in the job-exited signal so the caller can match it up.
    RequestID  string
    WorkflowID string
    // Job dir relative to log/job, e.g. "1/axe/01".
    JobSubDir string
    Job       parsing.JobConfig
    Script    string
}

type SubmittedJob struct {
    RequestID   string
    JobID       string
    JobFilePath string
    // As of the latest poll.
    LastState batchsys.JobState
}

// nonRetryable stops Temporal retrying errors that only an operator can
// fix.
func nonRetryable(err error) error {
    if err == nil {
        return nil
    }
    if category, ok := errcat.Category(err).(pathutil.ErrorCategory); ok {
        return temporal.NewNonRetryableApplicationError(err.Error(), string(category), err)
    }
    return err
}

func (a *JobRunnerActivity) jobFilePath(req SubmitRequest) string {
    if a.Host.IsRemote() {
        return pathutil.RemoteJobDir(req.WorkflowID, req.JobSubDir, "job")
    }
    return pathutil.JobDir(req.WorkflowID, req.JobSubDir, "job")
}

func (a *JobRunnerActivity) ProvisionRunTreeActivity(ctx context.Context, id string) error {
    logger := activity.GetLogger(ctx)
    if err := pathutil.MakeRunTree(a.Config, id); err != nil {
        return nonRetryable(err)
    }

    maker, ok := a.Host.(fs.RunTreeMaker)
    if !ok {
        return nil
    }
    symlinks := pathutil.DirsToSymlink(a.Config, a.Platform.InstallTarget, id)
    logger.Info(
        "Creating remote run tree", "workflow", id,
        "installTarget", a.Platform.InstallTarget, "symlinks", symlinks,
    )
    return nonRetryable(maker.MakeRemoteRunTree(ctx, id, symlinks))
}

func (a *JobRunnerActivity) SubmitJobActivity(
    ctx context.Context, req SubmitRequest,
) (SubmittedJob, error) {
    logger := activity.GetLogger(ctx)
    if err := pathutil.ValidateWorkflowID(req.WorkflowID); err != nil {
        return SubmittedJob{}, nonRetryable(err)
    }
    cleanSubDir := path.Clean(req.JobSubDir)
    if req.JobSubDir == "" || path.IsAbs(cleanSubDir) || cleanSubDir == ".." ||
        strings.HasPrefix(cleanSubDir, "../") {
        return SubmittedJob{}, temporal.NewNonRetryableApplicationError(
            fmt.Sprintf("invalid job sub dir %q", req.JobSubDir), "InvalidRequest", nil,
        )
    }

    job := req.Job
    job.Directives = a.Platform.Directives.Merge(job.Directives)
    job.JobFilePath = a.jobFilePath(req)
    if err := job.Validate(); err != nil {
        return SubmittedJob{}, temporal.NewNonRetryableApplicationError(
            err.Error(), "InvalidRequest", err,
        )
    }

    if err := batchsys.WriteJobFile(a.Handler, job, strings.NewReader(req.Script)); err != nil {
        return SubmittedJob{}, fmt.Errorf("error writing job file: %s", err)
    }

    localPath := pathutil.ExpandPath(job.JobFilePath)
    if err := a.Host.Upload(ctx, localPath, job.JobFilePath); err != nil {
        return SubmittedJob{}, fmt.Errorf(
            "unable to upload job file from %s to %s: %s",
            localPath, job.JobFilePath, err,
        )
    }

    submitCmd := a.Handler.GetSubmitCmd(job.JobFilePath)
    out, err := a.Host.RunCmd(ctx, submitCmd)
    if err != nil {
        return SubmittedJob{}, fs.CmdError(submitCmd, out, err)
    }

    jobID, ok := a.Handler.FilterSubmitOutput(out.StdOut)
    if !ok {
        return SubmittedJob{}, temporal.NewNonRetryableApplicationError(
            fmt.Sprintf(
                "no job ID in output of %q: %s",
                strings.Join(submitCmd, " "), strings.TrimSpace(out.StdOut),
            ),
            "SubmitOutput", nil,
        )
    }

    logger.Info(
        "Submitted job", "requestId", req.RequestID, "jobId", jobID,
        "runner", a.Handler.Name(), "jobFile", job.JobFilePath,
    )
    return SubmittedJob{
        RequestID:   req.RequestID,
        JobID:       jobID,
        JobFilePath: job.JobFilePath,
        LastState:   batchsys.JobStatePending,
    }, nil
}

// PollJobsActivity returns the state of each of jobIDs the scheduler still
// knows about, keyed by base ID. Jobs missing from the result have left
// the queue. With nothing to poll it only keeps the connection alive.
func (a *JobRunnerActivity) PollJobsActivity(
    ctx context.Context, jobIDs []string,
) (map[string]batchsys.JobState, error) {
    if len(jobIDs) == 0 {
        if !a.Host.IsRemote() {
            return nil, nil
        }
        keepalive := []string{"echo", "keepalive"}
        out, err := a.Host.RunCmd(ctx, keepalive)
        if err != nil {
            return nil, fs.CmdError(keepalive, out, err)
        }
        return nil, nil
    }

    pollCmd := a.Handler.GetPollManyCmd(jobIDs)
    out, err := a.Host.RunCmd(ctx, pollCmd)
    if err != nil && !isUnknownJobError(out, err) {
        return nil, fs.CmdError(pollCmd, out, err)
    }
    return batchsys.PollStates(a.Handler, out.StdOut), nil
}

// isUnknownJobError reports whether a failed poll only failed because some
// of the jobs have left the scheduler's queue.
func isUnknownJobError(out fs.CmdOut, err error) bool {
    if out.ExitCode == 0 || errors.Is(err, context.Canceled) ||
        errors.Is(err, context.DeadlineExceeded) {
        return false
    }
    stderr := strings.ToLower(out.StdErr)
    for _, marker := range unknownJobMarkers {
        if strings.Contains(stderr, marker) {
            return true
        }
    }
    return false
}

func (a *JobRunnerActivity) KillJobsActivity(ctx context.Context, jobIDs []string) error {
    if len(jobIDs) == 0 {
        return nil
    }
    killCmd := a.Handler.GetKillCmd(jobIDs)
    out, err := a.Host.RunCmd(ctx, killCmd)
    if err != nil {
        return fs.CmdError(killCmd, out, err)
    }
    activity.GetLogger(ctx).Info("Killed jobs", "jobIds", jobIDs)
    return nil
}

// CleanRunDirActivity removes a workflow's local run dir, or only the
// parts matching rmDirs (operator --rm patterns) when given.
func (a *JobRunnerActivity) CleanRunDirActivity(
    ctx context.Context, id string, rmDirs []string,
) error {
    patterns, err := pathutil.ParseRmDirs(rmDirs)
    if err != nil {
        return nonRetryable(err)
    }
    activity.GetLogger(ctx).Info("Cleaning run dir", "workflow", id, "rmDirs", rmDirs)
    return nonRetryable(pathutil.CleanRunDir(id, patterns))
}
