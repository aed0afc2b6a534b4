package batchsys

import (
    "fmt"
    "regexp"
    "sort"
    "strconv"
    "strings"

    "go-jobenv/parsing"
)

const slurmDirectivePrefix = "#SBATCH "

var (
    slurmSubmitRe = regexp.MustCompile(`Submitted batch job (\d+)`)
    slurmJobIDRe  = regexp.MustCompile(`^\d+(\+\d+)?$`)
    hetjobKeyRe   = regexp.MustCompile(`^hetjob_(\d+)_(.+)$`)
    packjobKeyRe  = regexp.MustCompile(`^packjob_(\d+)_(.+)$`)
)

// squeue ST codes, short and long form.
var slurmStates = map[string]JobState{
    "PD": JobStatePending, "PENDING": JobStatePending,
    "CF": JobStatePending, "CONFIGURING": JobStatePending,
    "RH": JobStatePending, "REQUEUE_HOLD": JobStatePending,
    "RQ": JobStatePending, "REQUEUED": JobStatePending,
    "R": JobStateRunning, "RUNNING": JobStateRunning,
    "CG": JobStateRunning, "COMPLETING": JobStateRunning,
    "S": JobStateRunning, "SUSPENDED": JobStateRunning,
    "ST": JobStateRunning, "STOPPED": JobStateRunning,
    "CD": JobStateSucceeded, "COMPLETED": JobStateSucceeded,
    "F": JobStateFailed, "FAILED": JobStateFailed,
    "CA": JobStateFailed, "CANCELLED": JobStateFailed,
    "TO": JobStateFailed, "TIMEOUT": JobStateFailed,
    "NF": JobStateFailed, "NODE_FAIL": JobStateFailed,
    "BF": JobStateFailed, "BOOT_FAIL": JobStateFailed,
    "DL": JobStateFailed, "DEADLINE": JobStateFailed,
    "OOM": JobStateFailed, "OUT_OF_MEMORY": JobStateFailed,
    "PR": JobStateFailed, "PREEMPTED": JobStateFailed,
}

// SlurmHandler drives sbatch/squeue/scancel. hetjobTag is the key prefix
// marking heterogeneous components: "hetjob" for current SLURM,
// "packjob" for releases before 20.02.
type SlurmHandler struct {
    hetjobTag string
    tagRe     *regexp.Regexp
    name      string
}

func (h SlurmHandler) Name() string {
    return h.name
}

func (h SlurmHandler) FormatDirectives(job parsing.JobConfig) []string {
    derived := parsing.Directives{
        {Key: "--job-name", Value: job.SuiteName + "." + job.TaskID},
        {Key: "--output", Value: slurmEscape(jobLogPath(job.JobFilePath, ".out"))},
        {Key: "--error", Value: slurmEscape(jobLogPath(job.JobFilePath, ".err"))},
    }
    if job.ExecutionTimeLimit != nil {
        limit := *job.ExecutionTimeLimit
        derived = derived.Set("--time", fmt.Sprintf("%d:%02d", limit/60, limit%60))
    }

    var untagged parsing.Directives
    components := make(map[int]parsing.Directives)
    for _, d := range job.Directives {
        m := h.tagRe.FindStringSubmatch(d.Key)
        if m == nil {
            untagged = append(untagged, d)
            continue
        }
        n, err := strconv.Atoi(m[1])
        if err != nil {
            untagged = append(untagged, d)
            continue
        }
        components[n] = components[n].Set(m[2], d.Value)
    }

    lines := make([]string, 0, len(derived)+len(job.Directives)+len(components))
    for _, d := range derived.Merge(untagged) {
        lines = append(lines, slurmDirectiveLine(d))
    }

    indices := make([]int, 0, len(components))
    for n := range components {
        indices = append(indices, n)
    }
    sort.Ints(indices)
    // Untagged directives already belong to component 0, so every later
    // component starts with a separator.
    for _, n := range indices {
        if n > 0 {
            lines = append(lines, slurmDirectivePrefix+h.hetjobTag)
        }
        for _, d := range components[n] {
            lines = append(lines, slurmDirectiveLine(d))
        }
    }
    return lines
}

func slurmDirectiveLine(d parsing.Directive) string {
    if d.Value == "" {
        return slurmDirectivePrefix + d.Key
    }
    return slurmDirectivePrefix + d.Key + "=" + d.Value
}

// sbatch treats % in file names as a pattern escape.
func slurmEscape(s string) string {
    return strings.ReplaceAll(s, "%", "%%")
}

func (h SlurmHandler) GetSubmitCmd(jobFilePath string) []string {
    return []string{"sbatch", jobFilePath}
}

func (h SlurmHandler) FilterSubmitOutput(out string) (string, bool) {
    m := slurmSubmitRe.FindStringSubmatch(out)
    if m == nil {
        return "", false
    }
    return m[1], true
}

func (h SlurmHandler) GetPollManyCmd(jobIDs []string) []string {
    return []string{"squeue", "-h", "-j", strings.Join(jobIDs, ",")}
}

func (h SlurmHandler) FilterPollManyOutput(out string) []string {
    ids := make([]string, 0)
    seen := make(map[string]struct{})
    for _, token := range firstTokens(out) {
        // Headers and banners.
        if !slurmJobIDRe.MatchString(token) {
            continue
        }
        ids = appendUnique(ids, seen, baseJobID(token))
    }
    return ids
}

// ClassifyPollLine reads a line of default-format squeue output:
// JOBID PARTITION NAME USER ST TIME NODES NODELIST(REASON).
func (h SlurmHandler) ClassifyPollLine(line string) (string, JobState, bool) {
    fields := strings.Fields(line)
    if len(fields) < 5 || !slurmJobIDRe.MatchString(fields[0]) {
        return "", JobStateUnknown, false
    }
    state, ok := slurmStates[fields[4]]
    if !ok {
        state = JobStateUnknown
    }
    return baseJobID(fields[0]), state, true
}

func (h SlurmHandler) GetKillCmd(jobIDs []string) []string {
    return append([]string{"scancel"}, jobIDs...)
}
