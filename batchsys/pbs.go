package batchsys

import (
    "fmt"
    "regexp"
    "strings"

    "go-jobenv/parsing"
)

const (
    pbsDirectivePrefix = "#PBS "
    pbsJobNameMaxLen   = 15
)

// "1234.server", "1234[].server" or a bare "1234". Only the numeric part
// is kept since qstat truncates long server names.
var pbsJobIDRe = regexp.MustCompile(`^(\d+)(\[\d*\])?(\.\S*)?\*?$`)

// qstat S column. Finished jobs (C, F, X) carry no exit status here, so
// their outcome is left unknown.
var pbsStates = map[string]JobState{
    "Q": JobStatePending, "H": JobStatePending, "W": JobStatePending,
    "T": JobStatePending, "M": JobStatePending,
    "R": JobStateRunning, "E": JobStateRunning, "B": JobStateRunning,
    "S": JobStateRunning, "U": JobStateRunning,
}

type PBSHandler struct{}

func (h PBSHandler) Name() string {
    return string(KindPBS)
}

func (h PBSHandler) FormatDirectives(job parsing.JobConfig) []string {
    name := job.SuiteName + "." + job.TaskID
    if runes := []rune(name); len(runes) > pbsJobNameMaxLen {
        name = string(runes[:pbsJobNameMaxLen])
    }
    derived := parsing.Directives{
        {Key: "-N", Value: name},
        {Key: "-o", Value: jobLogPath(job.JobFilePath, ".out")},
        {Key: "-e", Value: jobLogPath(job.JobFilePath, ".err")},
    }
    if _, userSet := job.Directives.Get("-l walltime"); job.ExecutionTimeLimit != nil && !userSet {
        limit := *job.ExecutionTimeLimit
        derived = derived.Set("-l", fmt.Sprintf(
            "walltime=%d:%02d:%02d", limit/3600, (limit%3600)/60, limit%60,
        ))
    }

    merged := derived.Merge(job.Directives)
    lines := make([]string, 0, len(merged))
    for _, d := range merged {
        switch {
        case d.Value == "":
            lines = append(lines, pbsDirectivePrefix+d.Key)
        case strings.Contains(d.Key, " "):
            // "-l select" = "2" -> "-l select=2"
            lines = append(lines, pbsDirectivePrefix+d.Key+"="+d.Value)
        default:
            lines = append(lines, pbsDirectivePrefix+d.Key+" "+d.Value)
        }
    }
    return lines
}

func (h PBSHandler) GetSubmitCmd(jobFilePath string) []string {
    return []string{"qsub", jobFilePath}
}

func (h PBSHandler) FilterSubmitOutput(out string) (string, bool) {
    for _, token := range firstTokens(out) {
        if m := pbsJobIDRe.FindStringSubmatch(token); m != nil {
            return m[1], true
        }
    }
    return "", false
}

func (h PBSHandler) GetPollManyCmd(jobIDs []string) []string {
    return append([]string{"qstat"}, jobIDs...)
}

func (h PBSHandler) FilterPollManyOutput(out string) []string {
    ids := make([]string, 0)
    seen := make(map[string]struct{})
    for _, token := range firstTokens(out) {
        m := pbsJobIDRe.FindStringSubmatch(token)
        if m == nil {
            continue
        }
        ids = appendUnique(ids, seen, m[1])
    }
    return ids
}

// ClassifyPollLine reads a line of default-format qstat output:
// Job id, Name, User, Time Use, S, Queue.
func (h PBSHandler) ClassifyPollLine(line string) (string, JobState, bool) {
    fields := strings.Fields(line)
    if len(fields) < 5 {
        return "", JobStateUnknown, false
    }
    m := pbsJobIDRe.FindStringSubmatch(fields[0])
    if m == nil {
        return "", JobStateUnknown, false
    }
    state, ok := pbsStates[fields[4]]
    if !ok {
        state = JobStateUnknown
    }
    return m[1], state, true
}

func (h PBSHandler) GetKillCmd(jobIDs []string) []string {
    return append([]string{"qdel"}, jobIDs...)
}
