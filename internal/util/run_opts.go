package util

// EnvMode specifies how much of the parent environment a task's child
// process sees, and how env vars contribute to the task's hash
type EnvMode string

const (
	// Infer - infer environment variable constraints from turbo.json
	Infer EnvMode = "infer"
	// Loose - environment variables are unconstrained
	Loose EnvMode = "loose"
	// Strict - environment variables are limited to the declared set
	Strict EnvMode = "strict"
)

// RunOpts holds the options that control the execution of a turbo run
type RunOpts struct {
	// Force execution to be serially one-at-a-time
	Concurrency int
	// Whether to execute in parallel (defaults to false)
	Parallel bool

	// The filename to write a perf profile.
	Profile string
	// If true, continue task executions even if a task fails.
	ContinueOnError bool
	PassThroughArgs []string
	// Restrict execution to only the listed task names. Default false
	Only bool
	// Dry run flags
	DryRun           bool
	DryRunJSON       bool
	DryRunJSONFormat bool
	// Graph flags
	GraphDot      bool
	GraphFile     string
	NoDaemon      bool
	SinglePackage bool

	// LogPrefix controls whether we should print a prefix in task logs
	LogPrefix string

	// LogOrder controls whether task output streams or is grouped per task
	LogOrder string

	// Whether turbo should create a run summary
	Summarize bool

	// Whether framework inference is enabled for env var hashing
	FrameworkInference bool

	// EnvMode is the global env var constraint mode for this run
	EnvMode EnvMode

	ExperimentalSpaceID string
}
