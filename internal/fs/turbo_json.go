package fs

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/taskmesh/taskmesh/internal/fs/hash"
	"github.com/taskmesh/taskmesh/internal/turbopath"
	"github.com/taskmesh/taskmesh/internal/util"
)

const (
	configFile  = "turbo.json"
	configFileC = "turbo.jsonc"

	// turboRootToken is the glob DSL token that re-anchors an inputs/outputs
	// glob at the repository root instead of the package directory.
	turboRootToken = "$TURBO_ROOT$"

	// envPipelineDelimiter is the legacy prefix that used to smuggle env vars
	// into dependsOn entries. It is rejected everywhere now.
	envPipelineDelimiter = "$"

	// topologicalPipelineDelimiter prefixes a dependsOn entry that refers to
	// the task in every dependency package rather than the same package.
	topologicalPipelineDelimiter = "^"

	// extendsRootMarker is the only valid extends target without the
	// non-root-extends future flag.
	extendsRootMarker = "//"
)

// RemoteCacheOptions configures access to a remote artifact cache.
type RemoteCacheOptions struct {
	TeamID    string `json:"teamId,omitempty"`
	Signature bool   `json:"signature,omitempty"`
}

// MultipleTurboConfigsError is returned when both turbo.json and turbo.jsonc
// exist in the same directory.
type MultipleTurboConfigsError struct {
	Dir string
}

func (e *MultipleTurboConfigsError) Error() string {
	return fmt.Sprintf("Found both turbo.json and turbo.jsonc in %v. Remove one so there is no ambiguity about which configuration applies", e.Dir)
}

// InvalidEnvPrefixError is returned for env entries carrying the legacy "$" prefix.
type InvalidEnvPrefixError struct {
	Value string
	Key   string
}

func (e *InvalidEnvPrefixError) Error() string {
	return fmt.Sprintf("Environment variables should not be prefixed with \"%v\" (%v in %v)", envPipelineDelimiter, e.Value, e.Key)
}

// TaskNotInExtendsChainError is returned when a package turbo.json declares
// "extends": false for a task that no turbo.json in its chain defines.
type TaskNotInExtendsChainError struct {
	Task string
}

func (e *TaskNotInExtendsChainError) Error() string {
	return fmt.Sprintf("Task %q sets \"extends\": false but is not defined anywhere in the extends chain", e.Task)
}

// TurboConfigJSON is one turbo.json file: the root pipeline configuration,
// or a per-package override that extends it.
type TurboConfigJSON struct {
	// Extends names the configs this one inherits from. Only valid (and
	// required) in per-package turbo.json files.
	Extends []string `json:"extends,omitempty"`

	// Global root filesystem dependencies
	GlobalDependencies []string `json:"globalDependencies,omitempty"`

	// GlobalEnv is a list of environment variables whose values contribute
	// to the global hash
	GlobalEnv []string `json:"globalEnv,omitempty"`

	// GlobalPassThroughEnv is the list of env vars made visible to every
	// task's child process in strict env mode, without hashing their values
	GlobalPassThroughEnv []string `json:"globalPassThroughEnv,omitempty"`

	// GlobalDotEnv is an ordered list of dotenv files hashed into the global hash
	GlobalDotEnv []string `json:"globalDotEnv,omitempty"`

	// RemoteCacheOptions configures the remote artifact cache, when enabled.
	RemoteCacheOptions RemoteCacheOptions `json:"remoteCache,omitempty"`

	// CacheDir is the (relative) local cache directory
	CacheDir string `json:"cacheDir,omitempty"`

	// UI selects the output UI ("stream" or "tui"); only the stream renderer
	// is implemented here
	UI string `json:"ui,omitempty"`

	// FutureFlags gates unreleased behavior; root-only.
	FutureFlags map[string]bool `json:"futureFlags,omitempty"`

	// Tasks is the task-pipeline map.
	Tasks Pipeline `json:"tasks,omitempty"`

	// Pipeline is the legacy name for Tasks.
	Pipeline Pipeline `json:"pipeline,omitempty"`

	// HashEnvVars is the legacy name for GlobalEnv.
	HashEnvVars []string `json:"hashEnvVariables,omitempty"`
}

// TaskMap returns the config's task map, honoring the legacy "pipeline" key
// when the "tasks" key is absent.
func (c *TurboConfigJSON) TaskMap() Pipeline {
	if len(c.Tasks) > 0 {
		return c.Tasks
	}
	return c.Pipeline
}

// GlobalEnvVars returns the global env-var dependencies, honoring the legacy
// "hashEnvVariables" key when "globalEnv" is absent.
func (c *TurboConfigJSON) GlobalEnvVars() []string {
	if len(c.GlobalEnv) > 0 {
		return c.GlobalEnv
	}
	return c.HashEnvVars
}

// Pipeline is the raw, as-authored turbo.json task map: task name to its
// PipelineTask entry, before dependsOn edges have been split into
// same-package vs topological (`^task`) and before any package-local
// override has been merged in.
type Pipeline map[string]PipelineTask

// PristinePipeline is the copy of a Pipeline embedded verbatim in a
// GlobalHashSummary/RunSummary report, kept distinct from Pipeline so the
// report shape can diverge from the live config type without touching
// config-loading code.
type PristinePipeline = Pipeline

// PipelineTask specifies the relationship(s) between package.json
// scripts (i.e. tasks) and caching behavior in a concise manner.
type PipelineTask struct {
	// Outputs are an array of globs relative to the package to be cached
	Outputs []string `json:"outputs,omitempty"`
	// Cache is whether or not the task's outputs should be cached
	Cache *bool `json:"cache,omitempty"`
	// DependsOn defines both per-task and topological task dependencies.
	// Topological dependencies are prefixed with a delimiter (^) whereas
	// intra-package dependencies are not.
	DependsOn []string `json:"dependsOn,omitempty"`
	// Inputs are the globs, relative to the package, hashed for this task.
	// Empty means "every git-tracked file under the package".
	Inputs []string `json:"inputs,omitempty"`
	// Env is the list of env vars whose values contribute to this task's hash
	Env []string `json:"env,omitempty"`
	// PassThroughEnv is the list of env vars visible to the child process
	// in strict mode without contributing to the hash
	PassThroughEnv []string `json:"passThroughEnv,omitempty"`
	// DotEnv is an ordered list of dotenv files hashed for this task
	DotEnv []string `json:"dotEnv,omitempty"`
	// OutputMode controls how much of the task's captured log is replayed
	OutputMode *util.TaskOutputMode `json:"outputLogs,omitempty"`
	// Persistent marks a long-running task that never exits on its own
	Persistent *bool `json:"persistent,omitempty"`
	// Interruptible marks a persistent task that can be restarted in watch mode
	Interruptible *bool `json:"interruptible,omitempty"`
	// Interactive attaches the task to the terminal; incompatible with caching
	Interactive *bool `json:"interactive,omitempty"`
	// EnvMode overrides the global env mode for this task
	EnvMode *util.EnvMode `json:"envMode,omitempty"`
	// With lists tasks to co-run with this one in watch/persistent mode
	With []string `json:"with,omitempty"`
	// Extends, when set to false, discards the inherited definition for
	// this task and re-bases it at the empty definition.
	Extends *bool `json:"extends,omitempty"`
}

// TaskOutputs is fs's copy of the hash package's cache-relevant output
// globs, kept as its own named type since several non-hashing consumers
// (runcache, the local dev server) build and pass these around without
// wanting a dependency on the hashing package's naming.
type TaskOutputs = hash.TaskOutputs

// ProcessedGlob is one inputs/outputs glob with the DSL tokens stripped:
// a leading "!" marks a negation, and a leading "$TURBO_ROOT$/" re-anchors
// the glob at the repository root.
type ProcessedGlob struct {
	Glob      string
	Negated   bool
	TurboRoot bool
}

// ProcessGlob strips the glob DSL tokens from one raw inputs/outputs entry.
func ProcessGlob(raw string) (ProcessedGlob, error) {
	glob := raw
	processed := ProcessedGlob{}
	if strings.HasPrefix(glob, "!") {
		processed.Negated = true
		glob = glob[1:]
	}
	if strings.HasPrefix(glob, turboRootToken) {
		if !strings.HasPrefix(glob, turboRootToken+"/") {
			return ProcessedGlob{}, fmt.Errorf("%q must be followed by a \"/\" when used in a glob (%q)", turboRootToken, raw)
		}
		processed.TurboRoot = true
		glob = strings.TrimPrefix(glob, turboRootToken+"/")
	} else if strings.Contains(glob, turboRootToken) {
		return ProcessedGlob{}, fmt.Errorf("%q may only appear at the start of a glob (%q)", turboRootToken, raw)
	}
	if filepath.IsAbs(glob) {
		return ProcessedGlob{}, fmt.Errorf("absolute paths are not allowed in globs (%q)", raw)
	}
	processed.Glob = glob
	return processed, nil
}

// ProcessGlobs strips the glob DSL tokens from a list of raw globs.
func ProcessGlobs(raw []string) ([]ProcessedGlob, error) {
	processed := make([]ProcessedGlob, 0, len(raw))
	for _, glob := range raw {
		p, err := ProcessGlob(glob)
		if err != nil {
			return nil, err
		}
		processed = append(processed, p)
	}
	return processed, nil
}

// Resolve produces the final glob string, re-rooting TurboRoot globs at the
// given repo-root-relative path and restoring the negation prefix.
func (g ProcessedGlob) Resolve(turboRootPath string) string {
	glob := g.Glob
	if g.TurboRoot {
		glob = turboRootPath + "/" + glob
	}
	if g.Negated {
		return "!" + glob
	}
	return glob
}

// TaskDefinition is the fully resolved definition of one task inside one
// package: a PipelineTask entry merged against its package's turbo.json
// override (if any) and normalized into the shape hashing and the run
// cache consume.
type TaskDefinition struct {
	Outputs        TaskOutputs
	OutputMode     util.TaskOutputMode
	EnvMode        util.EnvMode
	ShouldCache    bool
	Persistent     bool
	Interruptible  bool
	Interactive    bool
	DependsOn      []string
	With           []string
	Inputs         []string
	Env            []string
	PassThroughEnv []string
	DotEnv         turbopath.AnchoredUnixPathArray
}

// turboConfigPath locates the turbo.json or turbo.jsonc for a directory,
// erroring when both are present.
func turboConfigPath(dir turbopath.AbsoluteSystemPath) (turbopath.AbsoluteSystemPath, error) {
	jsonPath := dir.UntypedJoin(configFile)
	jsoncPath := dir.UntypedJoin(configFileC)
	jsonExists := jsonPath.FileExists()
	jsoncExists := jsoncPath.FileExists()
	if jsonExists && jsoncExists {
		return "", &MultipleTurboConfigsError{Dir: dir.ToString()}
	}
	if jsoncExists {
		return jsoncPath, nil
	}
	if jsonExists {
		return jsonPath, nil
	}
	return "", nil
}

// ReadTurboConfigJSON reads and parses a turbo.json (or turbo.jsonc) file
// at the given path.
func ReadTurboConfigJSON(path turbopath.AbsoluteSystemPath) (*TurboConfigJSON, error) {
	data, err := path.ReadFile()
	if err != nil {
		return nil, err
	}
	if path.Ext() == ".jsonc" || jsonc.Valid(data) && !json.Valid(data) {
		data = jsonc.ToJSON(data)
	}
	var config TurboConfigJSON
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing %v: %w", path, err)
	}
	return &config, nil
}

// LoadTurboConfig resolves a workspace's turbo.json, falling back to the
// root package.json's deprecated "turbo" key when no turbo.json file is
// present. Single-package workspaces without either configuration return an
// empty, valid TurboConfigJSON rather than an error. The returned config
// has been validated for the root context.
func LoadTurboConfig(workspaceDir turbopath.AbsoluteSystemPath, workspacePackageJSON *PackageJSON, isSinglePackage bool) (*TurboConfigJSON, error) {
	path, err := turboConfigPath(workspaceDir)
	if err != nil {
		return nil, err
	}
	var config *TurboConfigJSON
	switch {
	case path != "":
		config, err = ReadTurboConfigJSON(path)
		if err != nil {
			return nil, err
		}
	case workspacePackageJSON != nil && workspacePackageJSON.LegacyTurboConfig != nil:
		config = workspacePackageJSON.LegacyTurboConfig
	case isSinglePackage:
		config = &TurboConfigJSON{}
	default:
		return nil, fmt.Errorf("no turbo.json or package.json#turbo configuration found in %v", workspaceDir)
	}
	if err := config.ValidateRoot(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadWorkspaceTurboConfig loads and validates one package's turbo.json
// override. A nil result (with nil error) means the package has no override.
func LoadWorkspaceTurboConfig(workspaceDir turbopath.AbsoluteSystemPath, allowNonRootExtends bool) (*TurboConfigJSON, error) {
	path, err := turboConfigPath(workspaceDir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	config, err := ReadTurboConfigJSON(path)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateWorkspace(allowNonRootExtends); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return config, nil
}

// validateTask applies the context-independent per-task rules.
func validateTask(taskName string, task PipelineTask) error {
	for _, value := range task.Env {
		if strings.HasPrefix(value, envPipelineDelimiter) {
			return &InvalidEnvPrefixError{Value: value, Key: fmt.Sprintf("%s.env", taskName)}
		}
	}
	for _, value := range task.PassThroughEnv {
		if strings.HasPrefix(value, envPipelineDelimiter) {
			return &InvalidEnvPrefixError{Value: value, Key: fmt.Sprintf("%s.passThroughEnv", taskName)}
		}
	}
	for _, value := range task.DependsOn {
		if strings.HasPrefix(value, envPipelineDelimiter) {
			return fmt.Errorf("dependsOn entries may not reference environment variables (%q in %q); use the \"env\" key instead", value, taskName)
		}
		if filepath.IsAbs(value) {
			return fmt.Errorf("dependsOn entries may not be absolute paths (%q in %q)", value, taskName)
		}
	}
	for _, value := range task.With {
		if strings.HasPrefix(value, topologicalPipelineDelimiter) {
			return fmt.Errorf("with entries may not be topological references (%q in %q)", value, taskName)
		}
	}
	if task.Interruptible != nil && *task.Interruptible && (task.Persistent == nil || !*task.Persistent) {
		return fmt.Errorf("task %q is marked interruptible but not persistent; interruptible requires persistent", taskName)
	}
	if task.Interactive != nil && *task.Interactive && (task.Cache == nil || *task.Cache) {
		return fmt.Errorf("task %q is marked interactive but still caches; interactive tasks must set \"cache\": false", taskName)
	}
	if _, err := ProcessGlobs(task.Inputs); err != nil {
		return fmt.Errorf("task %q: %w", taskName, err)
	}
	if _, err := ProcessGlobs(task.Outputs); err != nil {
		return fmt.Errorf("task %q: %w", taskName, err)
	}
	return nil
}

// ValidateRoot applies the root-context rules to this config.
func (c *TurboConfigJSON) ValidateRoot() error {
	if len(c.Extends) > 0 {
		return fmt.Errorf("the root turbo.json may not use \"extends\"")
	}
	for _, value := range c.GlobalEnvVars() {
		if strings.HasPrefix(value, envPipelineDelimiter) {
			return &InvalidEnvPrefixError{Value: value, Key: "globalEnv"}
		}
	}
	if c.CacheDir != "" && (filepath.IsAbs(c.CacheDir) || strings.HasPrefix(c.CacheDir, "/")) {
		return fmt.Errorf("cacheDir must be a relative unix path; absolute cache directories may only be set via --cache-dir or TURBO_CACHE_DIR")
	}
	for taskName, task := range c.TaskMap() {
		if err := validateTask(taskName, task); err != nil {
			return err
		}
	}
	return nil
}

// ValidateWorkspace applies the per-package context rules to this config.
func (c *TurboConfigJSON) ValidateWorkspace(allowNonRootExtends bool) error {
	if len(c.FutureFlags) > 0 {
		return fmt.Errorf("\"futureFlags\" may only appear in the root turbo.json")
	}
	if len(c.Extends) == 0 {
		return fmt.Errorf("a package turbo.json must have an \"extends\" key (usually [\"//\"])")
	}
	for _, target := range c.Extends {
		if target != extendsRootMarker && !allowNonRootExtends {
			return fmt.Errorf("invalid \"extends\" target %q; only %q is supported", target, extendsRootMarker)
		}
	}
	for taskName, task := range c.TaskMap() {
		if util.IsPackageTask(taskName) {
			return fmt.Errorf("a package turbo.json may not use package-task syntax (%q); use plain task names", taskName)
		}
		if err := validateTask(taskName, task); err != nil {
			return err
		}
	}
	return nil
}

// mergeTask layers a child PipelineTask over a parent: scalar fields
// replace, list fields concatenate then dedupe.
func mergeTask(parent PipelineTask, child PipelineTask) PipelineTask {
	merged := parent
	if child.Cache != nil {
		merged.Cache = child.Cache
	}
	if child.OutputMode != nil {
		merged.OutputMode = child.OutputMode
	}
	if child.Persistent != nil {
		merged.Persistent = child.Persistent
	}
	if child.Interruptible != nil {
		merged.Interruptible = child.Interruptible
	}
	if child.Interactive != nil {
		merged.Interactive = child.Interactive
	}
	if child.EnvMode != nil {
		merged.EnvMode = child.EnvMode
	}
	merged.Outputs = concatDedupe(parent.Outputs, child.Outputs)
	merged.DependsOn = concatDedupe(parent.DependsOn, child.DependsOn)
	merged.Inputs = concatDedupe(parent.Inputs, child.Inputs)
	merged.Env = concatDedupe(parent.Env, child.Env)
	merged.PassThroughEnv = concatDedupe(parent.PassThroughEnv, child.PassThroughEnv)
	merged.DotEnv = concatDedupe(parent.DotEnv, child.DotEnv)
	merged.With = concatDedupe(parent.With, child.With)
	return merged
}

func concatDedupe(parent []string, child []string) []string {
	if len(child) == 0 {
		return parent
	}
	seen := make(map[string]struct{}, len(parent)+len(child))
	out := make([]string, 0, len(parent)+len(child))
	for _, list := range [][]string{parent, child} {
		for _, entry := range list {
			if _, ok := seen[entry]; ok {
				continue
			}
			seen[entry] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}

// ResolveTaskDefinition merges the root config's entry for taskName (first
// the bare task entry, then any package-qualified "pkg#task" entry) with
// the package turbo.json's entry, and normalizes the result. workspaceConfig
// may be nil when the package carries no override.
func ResolveTaskDefinition(rootConfig *TurboConfigJSON, workspaceConfig *TurboConfigJSON, packageName string, taskName string) (*TaskDefinition, error) {
	chain := make([]PipelineTask, 0, 3)
	inChain := false

	rootTasks := rootConfig.TaskMap()
	if entry, ok := rootTasks[taskName]; ok {
		chain = append(chain, entry)
		inChain = true
	}
	if entry, ok := rootTasks[util.GetTaskId(packageName, taskName)]; ok {
		chain = append(chain, entry)
		inChain = true
	}
	if workspaceConfig != nil {
		if entry, ok := workspaceConfig.TaskMap()[taskName]; ok {
			if entry.Extends != nil && !*entry.Extends {
				if !inChain {
					return nil, &TaskNotInExtendsChainError{Task: taskName}
				}
				chain = chain[:0]
			}
			chain = append(chain, entry)
			inChain = true
		}
	}
	if !inChain {
		return nil, nil
	}

	merged := chain[0]
	for _, entry := range chain[1:] {
		merged = mergeTask(merged, entry)
	}
	return normalizeTask(merged)
}

// normalizeTask converts a merged PipelineTask into a fully-resolved
// TaskDefinition, parsing glob DSL tokens now so later hashing is pure
// string work.
func normalizeTask(task PipelineTask) (*TaskDefinition, error) {
	def := &TaskDefinition{
		ShouldCache: true,
		OutputMode:  util.FullTaskOutput,
		EnvMode:     util.Infer,
		DependsOn:   task.DependsOn,
		With:        task.With,
		Inputs:      task.Inputs,
	}
	if task.Cache != nil {
		def.ShouldCache = *task.Cache
	}
	if task.OutputMode != nil {
		def.OutputMode = *task.OutputMode
	}
	if task.Persistent != nil {
		def.Persistent = *task.Persistent
	}
	if task.Interruptible != nil {
		def.Interruptible = *task.Interruptible
	}
	if task.Interactive != nil {
		def.Interactive = *task.Interactive
	}
	if task.EnvMode != nil {
		def.EnvMode = *task.EnvMode
	}

	outputGlobs, err := ProcessGlobs(task.Outputs)
	if err != nil {
		return nil, err
	}
	for _, glob := range outputGlobs {
		if glob.Negated {
			def.Outputs.Exclusions = append(def.Outputs.Exclusions, glob.Glob)
		} else {
			def.Outputs.Inclusions = append(def.Outputs.Inclusions, glob.Glob)
		}
	}
	def.Outputs.Sort()

	env := concatDedupe(nil, task.Env)
	sort.Strings(env)
	def.Env = env

	passThrough := concatDedupe(nil, task.PassThroughEnv)
	sort.Strings(passThrough)
	def.PassThroughEnv = passThrough

	for _, dotEnv := range task.DotEnv {
		def.DotEnv = append(def.DotEnv, turbopath.AnchoredUnixPath(dotEnv))
	}

	return def, nil
}
