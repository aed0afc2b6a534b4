package parsing

import (
    "errors"
    "fmt"
    "path/filepath"
    "strings"
)

// Directive is one scheduler flag and its value. An empty Value marks a
// bare flag, e.g. "--exclusive".
type Directive struct {
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
}

// Directives keeps the order in which the user wrote them; schedulers
// care about it for heterogeneous jobs.
type Directives []Directive

// JobConfig is built fresh by the caller for every submission attempt.
type JobConfig struct {
    Directives         Directives `json:"directives"`
    // Seconds; nil means no limit requested.
    ExecutionTimeLimit *int       `json:"execution_time_limit,omitempty"`
    JobFilePath        string     `json:"job_file_path"`
    SuiteName          string     `json:"suite_name"`
    TaskID             string     `json:"task_id"`
}

func (ds Directives) Get(key string) (string, bool) {
    for _, d := range ds {
        if d.Key == key {
            return d.Value, true
        }
    }
    return "", false
}

// Set overwrites the value of key in place, or appends it.
func (ds Directives) Set(key, value string) Directives {
    for i := range ds {
        if ds[i].Key == key {
            ds[i].Value = value
            return ds
        }
    }
    return append(ds, Directive{Key: key, Value: value})
}

// Merge returns a copy of ds with every directive of other applied on top.
func (ds Directives) Merge(other Directives) Directives {
    out := make(Directives, len(ds), len(ds)+len(other))
    copy(out, ds)
    for _, d := range other {
        out = out.Set(d.Key, d.Value)
    }
    return out
}

func (jc JobConfig) Validate() error {
    var errorMessages []string

    if jc.SuiteName == "" {
        errorMessages = append(errorMessages, "job config missing suite name")
    }
    if jc.TaskID == "" {
        errorMessages = append(errorMessages, "job config missing task id")
    }

    // Remote job files are addressed relative to $HOME so that the remote
    // shell resolves them; anything else must be absolute.
    if !filepath.IsAbs(jc.JobFilePath) && !strings.HasPrefix(jc.JobFilePath, "$HOME/") {
        errorMessages = append(errorMessages, fmt.Sprintf(
            "job file path %q must be absolute or start with $HOME/",
            jc.JobFilePath,
        ))
    }

    if jc.ExecutionTimeLimit != nil && *jc.ExecutionTimeLimit < 0 {
        errorMessages = append(errorMessages, fmt.Sprintf(
            "negative execution time limit %d", *jc.ExecutionTimeLimit,
        ))
    }

    for i, d := range jc.Directives {
        if strings.TrimSpace(d.Key) == "" {
            errorMessages = append(errorMessages, fmt.Sprintf(
                "directive %d has an empty key", i,
            ))
        }
    }

    if len(errorMessages) > 0 {
        return errors.New(strings.Join(errorMessages, "\n"))
    }
    return nil
}
