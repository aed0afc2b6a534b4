package workflow

import (
    "sort"
    "time"

    "go-jobenv/batchsys"

    "go.temporal.io/sdk/temporal"
    "go.temporal.io/sdk/workflow"
)

const (
    JobRequestSignal  = "job-request"
    JobExitedSignal   = "job-exited"
    KillRequestSignal = "kill-request"

    pollInterval        = 5 * time.Second
    maxHistoryLength    = 9000
    activityTimeout     = time.Minute
    maxActivityAttempts = 3
)

// JobExited is signalled to the parent once a job has left the
// scheduler's queue, or straight away if it could not be submitted.
// State is the last finished state the scheduler reported, or unknown if
// the job left the queue before one was seen.
type JobExited struct {
    RequestID string
    JobID     string
    State     batchsys.JobState
    Error     string
}

type KillRequest struct {
    RequestIDs []string
}

type PollerState struct {
    ParentWfId    string
    ParentWfRunId string
    TaskQueue     string
    // Keyed by job ID.
    RunningJobs map[string]SubmittedJob
}

func activityCtx(ctx workflow.Context, state *PollerState) workflow.Context {
    ao := workflow.ActivityOptions{
        TaskQueue:           state.TaskQueue,
        StartToCloseTimeout: activityTimeout,
        RetryPolicy: &temporal.RetryPolicy{
            MaximumAttempts:    maxActivityAttempts,
            BackoffCoefficient: 4,
        },
    }
    return workflow.WithActivityOptions(ctx, ao)
}

func notifyParent(ctx workflow.Context, state *PollerState, exited JobExited) {
    err := workflow.SignalExternalWorkflow(
        ctx, state.ParentWfId, state.ParentWfRunId, JobExitedSignal, exited,
    ).Get(ctx, nil)
    if err != nil {
        workflow.GetLogger(ctx).Error(
            "Failed to signal parent", "parentWfId", state.ParentWfId,
            "requestId", exited.RequestID, "error", err,
        )
    }
}

func submitJob(ctx workflow.Context, state *PollerState, req SubmitRequest) {
    var a JobRunnerActivity
    var job SubmittedJob
    err := workflow.ExecuteActivity(
        activityCtx(ctx, state), a.SubmitJobActivity, req,
    ).Get(ctx, &job)

    if err != nil {
        workflow.GetLogger(ctx).Warn(
            "Job submission failed", "requestId", req.RequestID, "error", err,
        )
        notifyParent(ctx, state, JobExited{
            RequestID: req.RequestID,
            State:     batchsys.JobStateFailed,
            Error:     err.Error(),
        })
        return
    }
    state.RunningJobs[job.JobID] = job
}

func sortedJobIDs(jobs map[string]SubmittedJob) []string {
    ids := make([]string, 0, len(jobs))
    for id := range jobs {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    return ids
}

func pollJobs(ctx workflow.Context, state *PollerState) {
    logger := workflow.GetLogger(ctx)
    ids := sortedJobIDs(state.RunningJobs)

    var a JobRunnerActivity
    var live map[string]batchsys.JobState
    err := workflow.ExecuteActivity(
        activityCtx(ctx, state), a.PollJobsActivity, ids,
    ).Get(ctx, &live)
    if err != nil {
        // Try again next tick; a failed poll says nothing about the jobs.
        logger.Warn("Poll failed", "jobIds", ids, "error", err)
        return
    }

    for _, id := range ids {
        job := state.RunningJobs[id]
        if jobState, ok := live[id]; ok {
            if jobState != batchsys.JobStateUnknown {
                job.LastState = jobState
                state.RunningJobs[id] = job
            }
            continue
        }

        finalState := job.LastState
        if !finalState.Done() {
            finalState = batchsys.JobStateUnknown
        }
        delete(state.RunningJobs, id)
        logger.Info(
            "Job exited", "jobId", id, "requestId", job.RequestID, "state", finalState,
        )
        notifyParent(ctx, state, JobExited{
            RequestID: job.RequestID,
            JobID:     id,
            State:     finalState,
        })
    }
}

func killJobs(ctx workflow.Context, state *PollerState, req KillRequest) {
    wanted := make(map[string]struct{}, len(req.RequestIDs))
    for _, id := range req.RequestIDs {
        wanted[id] = struct{}{}
    }

    jobIDs := make([]string, 0)
    for _, id := range sortedJobIDs(state.RunningJobs) {
        if _, ok := wanted[state.RunningJobs[id].RequestID]; ok {
            jobIDs = append(jobIDs, id)
        }
    }
    if len(jobIDs) == 0 {
        return
    }

    // The jobs stay tracked; the next poll reports them once gone.
    var a JobRunnerActivity
    err := workflow.ExecuteActivity(
        activityCtx(ctx, state), a.KillJobsActivity, jobIDs,
    ).Get(ctx, nil)
    if err != nil {
        workflow.GetLogger(ctx).Error("Kill failed", "jobIds", jobIDs, "error", err)
    }
}

// JobPollerWorkflow submits the jobs signalled to it and polls all of
// them with one scheduler command per tick, telling the parent as each
// one leaves the queue.
func JobPollerWorkflow(ctx workflow.Context, state PollerState) error {
    // Empty in the first incarnation, carried over after continue-as-new.
    if state.RunningJobs == nil {
        state.RunningJobs = make(map[string]SubmittedJob)
    }

    selector := workflow.NewSelector(ctx)

    jobReqChan := workflow.GetSignalChannel(ctx, JobRequestSignal)
    selector.AddReceive(jobReqChan, func(c workflow.ReceiveChannel, _ bool) {
        var req SubmitRequest
        c.Receive(ctx, &req)
        submitJob(ctx, &state, req)
    })

    killReqChan := workflow.GetSignalChannel(ctx, KillRequestSignal)
    selector.AddReceive(killReqChan, func(c workflow.ReceiveChannel, _ bool) {
        var req KillRequest
        c.Receive(ctx, &req)
        killJobs(ctx, &state, req)
    })

    var timerCallback func(workflow.Future)
    timerCallback = func(f workflow.Future) {
        pollJobs(ctx, &state)
        timer := workflow.NewTimer(ctx, pollInterval)
        selector.AddFuture(timer, timerCallback)
    }

    timer := workflow.NewTimer(ctx, pollInterval)
    selector.AddFuture(timer, timerCallback)

    for workflow.GetInfo(ctx).GetCurrentHistoryLength() < maxHistoryLength {
        selector.Select(ctx)
        if ctx.Err() != nil {
            return nil
        }
    }

    // Pending signals are not delivered to the successor workflow, so
    // drain them first.
    for {
        var req SubmitRequest
        if !jobReqChan.ReceiveAsync(&req) {
            break
        }
        submitJob(ctx, &state, req)
    }
    for {
        var req KillRequest
        if !killReqChan.ReceiveAsync(&req) {
            break
        }
        killJobs(ctx, &state, req)
    }

    return workflow.NewContinueAsNewError(ctx, JobPollerWorkflow, state)
}
