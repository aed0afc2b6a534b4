package batchsys

import (
    "testing"

    "go-jobenv/parsing"

    "github.com/google/go-cmp/cmp"
    "github.com/stretchr/testify/require"
)

func TestPBSFormatDirectives(t *testing.T) {
    var testCases = []struct {
        name     string
        job      parsing.JobConfig
        expected []string
    }{
        {
            name: "derived and user directives",
            job: parsing.JobConfig{
                Directives: parsing.Directives{
                    {Key: "-q", Value: "long"},
                    {Key: "-V"},
                    {Key: "-l select", Value: "1:ncpus=4"},
                },
                ExecutionTimeLimit: intPtr(3723),
                JobFilePath:        "$HOME/cylc-run/chop/log/job/1/axe/01/job",
                SuiteName:          "chop",
                TaskID:             "axe.1",
            },
            expected: []string{
                "#PBS -N chop.axe.1",
                "#PBS -o cylc-run/chop/log/job/1/axe/01/job.out",
                "#PBS -e cylc-run/chop/log/job/1/axe/01/job.err",
                "#PBS -l walltime=1:02:03",
                "#PBS -q long",
                "#PBS -V",
                "#PBS -l select=1:ncpus=4",
            },
        },
        {
            name: "long name truncated, user walltime wins",
            job: parsing.JobConfig{
                Directives: parsing.Directives{
                    {Key: "-l walltime", Value: "2:00:00"},
                },
                ExecutionTimeLimit: intPtr(60),
                JobFilePath:        "/abs/job",
                SuiteName:          "a-very-long-suite",
                TaskID:             "t",
            },
            expected: []string{
                "#PBS -N a-very-long-sui",
                "#PBS -o /abs/job.out",
                "#PBS -e /abs/job.err",
                "#PBS -l walltime=2:00:00",
            },
        },
        {
            name: "short multi-byte name untouched",
            job: parsing.JobConfig{
                JobFilePath: "/abs/job",
                SuiteName:   "météo-suite",
                TaskID:      "t",
            },
            expected: []string{
                "#PBS -N météo-suite.t",
                "#PBS -o /abs/job.out",
                "#PBS -e /abs/job.err",
            },
        },
        {
            name: "multi-byte rune at the cut",
            job: parsing.JobConfig{
                JobFilePath: "/abs/job",
                SuiteName:   "abcdefghijklm",
                TaskID:      "éz",
            },
            // Byte 15 falls inside the é.
            expected: []string{
                "#PBS -N abcdefghijklm.é",
                "#PBS -o /abs/job.out",
                "#PBS -e /abs/job.err",
            },
        },
    }

    for _, tt := range testCases {
        t.Run(tt.name, func(t *testing.T) {
            h := mustHandler(t, KindPBS)
            if diff := cmp.Diff(tt.expected, h.FormatDirectives(tt.job)); diff != "" {
                t.Fatalf("FormatDirectives mismatch (-want +got):\n%s", diff)
            }
        })
    }
}

func TestPBSCommands(t *testing.T) {
    h := mustHandler(t, KindPBS)
    require.Equal(t, []string{"qsub", "/j/job"}, h.GetSubmitCmd("/j/job"))
    require.Equal(t, []string{"qstat", "12", "34"}, h.GetPollManyCmd([]string{"12", "34"}))
    require.Equal(t, []string{"qdel", "12", "34"}, h.GetKillCmd([]string{"12", "34"}))

    id, ok := h.FilterSubmitOutput("5678.pbsserver.example.com\n")
    require.True(t, ok)
    require.Equal(t, "5678", id)

    _, ok = h.FilterSubmitOutput("qsub: Unknown queue")
    require.False(t, ok)
}

func TestPBSFilterPollManyOutput(t *testing.T) {
    out := `Job id            Name             User              Time Use S Queue
----------------  ---------------- ----------------  -------- - -----
5678.pbsserver    chop.axe.1       me                00:00:01 R long
91[].pbsserv*     chop.arr.1       me                       0 Q long
5678.pbsserver    chop.axe.1       me                00:00:01 R long
qstat: 1111.pbsserver Job has finished, use -x or -H
`
    require.Equal(t, []string{"5678", "91"}, mustHandler(t, KindPBS).FilterPollManyOutput(out))
}

func TestPBSClassifyPollLine(t *testing.T) {
    classifier, ok := mustHandler(t, KindPBS).(LineClassifier)
    require.True(t, ok)

    var testCases = []struct {
        line  string
        id    string
        state JobState
        ok    bool
    }{
        {line: "5678.pbsserver    chop.axe.1  me  00:00:01 R long", id: "5678", state: JobStateRunning, ok: true},
        {line: "91[].pbsserv*     chop.arr.1  me         0 Q long", id: "91", state: JobStatePending, ok: true},
        {line: "92.pbsserver      chop.b.1    me  00:00:00 H long", id: "92", state: JobStatePending, ok: true},
        {line: "93.pbsserver      chop.c.1    me  00:10:00 E long", id: "93", state: JobStateRunning, ok: true},
        // Finished jobs say nothing about their exit status.
        {line: "94.pbsserver      chop.d.1    me  00:10:00 F long", id: "94", state: JobStateUnknown, ok: true},
        {line: "Job id            Name        User  Time Use S Queue", ok: false},
        {line: "----------------  ----------- ----  -------- - -----", ok: false},
        {line: "qstat: 1111.pbsserver Job has finished, use -x or -H", ok: false},
    }

    for _, tt := range testCases {
        id, state, ok := classifier.ClassifyPollLine(tt.line)
        require.Equal(t, tt.ok, ok, "line %q", tt.line)
        if !tt.ok {
            continue
        }
        require.Equal(t, tt.id, id)
        require.Equal(t, tt.state, state)
    }
}
