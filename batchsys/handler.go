package batchsys

import (
    "fmt"
    "strings"

    "go-jobenv/parsing"
)

// Handler turns a job config into scheduler commands and makes sense of
// what the scheduler prints back. Handlers do no I/O; running the
// commands they build is up to the caller.
type Handler interface {
    Name() string
    // FormatDirectives returns the directive lines for the job file
    // header, in the order they must appear.
    FormatDirectives(job parsing.JobConfig) []string
    GetSubmitCmd(jobFilePath string) []string
    // FilterSubmitOutput extracts the job ID from submit command output.
    FilterSubmitOutput(out string) (string, bool)
    // GetPollManyCmd builds one status command for all of jobIDs.
    GetPollManyCmd(jobIDs []string) []string
    // FilterPollManyOutput returns the base IDs of jobs the scheduler still
    // knows about. Lines that don't parse are skipped.
    FilterPollManyOutput(out string) []string
    GetKillCmd(jobIDs []string) []string
}

// LineClassifier is implemented by handlers that can read a job's state
// off a single poll output line.
type LineClassifier interface {
    ClassifyPollLine(line string) (jobID string, state JobState, ok bool)
}

type JobState string

const (
    JobStateUnknown   JobState = "unknown"
    JobStatePending   JobState = "pending"
    JobStateRunning   JobState = "running"
    JobStateSucceeded JobState = "succeeded"
    JobStateFailed    JobState = "failed"
)

// Done reports whether the scheduler is finished with the job.
func (s JobState) Done() bool {
    return s == JobStateSucceeded || s == JobStateFailed
}

// When components of one heterogeneous job disagree, the highest ranked
// state is the job's.
var stateRank = map[JobState]int{
    JobStateUnknown:   0,
    JobStateSucceeded: 1,
    JobStateFailed:    2,
    JobStatePending:   3,
    JobStateRunning:   4,
}

// PollStates maps the base ID of every job still in poll output to its
// state. Jobs the handler cannot classify are JobStateUnknown.
func PollStates(h Handler, out string) map[string]JobState {
    states := make(map[string]JobState)
    for _, id := range h.FilterPollManyOutput(out) {
        states[id] = JobStateUnknown
    }

    classifier, ok := h.(LineClassifier)
    if !ok {
        return states
    }
    for _, line := range strings.Split(out, "\n") {
        id, state, ok := classifier.ClassifyPollLine(line)
        if !ok {
            continue
        }
        if current, live := states[id]; live && stateRank[state] > stateRank[current] {
            states[id] = state
        }
    }
    return states
}

type Kind string

const (
    KindSlurm        Kind = "slurm"
    KindSlurmPackjob Kind = "slurm_packjob"
    KindPBS          Kind = "pbs"
)

var allKinds = []Kind{KindSlurm, KindSlurmPackjob, KindPBS}

func ParseKind(s string) (Kind, error) {
    for _, kind := range allKinds {
        if string(kind) == s {
            return kind, nil
        }
    }

    names := make([]string, len(allKinds))
    for i, kind := range allKinds {
        names[i] = string(kind)
    }
    return "", fmt.Errorf(
        "unknown job runner %q; expected one of %s", s, strings.Join(names, ", "),
    )
}

func New(kind Kind) (Handler, error) {
    switch kind {
    case KindSlurm:
        return SlurmHandler{
            hetjobTag: "hetjob", tagRe: hetjobKeyRe, name: string(KindSlurm),
        }, nil
    case KindSlurmPackjob:
        return SlurmHandler{
            hetjobTag: "packjob", tagRe: packjobKeyRe, name: string(KindSlurmPackjob),
        }, nil
    case KindPBS:
        return PBSHandler{}, nil
    }
    return nil, fmt.Errorf("no handler for job runner %q", kind)
}

// baseJobID strips a heterogeneous component suffix: "1234+1" -> "1234".
func baseJobID(id string) string {
    if i := strings.IndexByte(id, '+'); i >= 0 {
        return id[:i]
    }
    return id
}

// firstTokens returns the first whitespace-separated token of every line
// that has one.
func firstTokens(out string) []string {
    tokens := make([]string, 0)
    for _, line := range strings.Split(out, "\n") {
        fields := strings.Fields(line)
        if len(fields) == 0 {
            continue
        }
        tokens = append(tokens, fields[0])
    }
    return tokens
}

// appendUnique appends id to ids unless seen already holds it.
func appendUnique(ids []string, seen map[string]struct{}, id string) []string {
    if _, ok := seen[id]; ok {
        return ids
    }
    seen[id] = struct{}{}
    return append(ids, id)
}

// jobLogPath is the job file path as the scheduler sees it from the
// submitting user's home dir.
func jobLogPath(jobFilePath, suffix string) string {
    return strings.TrimPrefix(jobFilePath, "$HOME/") + suffix
}
