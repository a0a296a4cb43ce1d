// Package task defines the SDK's task abstraction: polymorphic units of
// work identified by a content-addressed hash of their class and
// parameters, composed into graphs via Requires and, for tasks with
// dynamic dependencies, via the Yield batches returned from Start/Resume.
package task

import "context"

// Task is implemented by every unit of work the build engine can drive.
// Concrete task types are ordinary Go structs; Namespace/Name/Params are
// the discriminator and payload used for content-addressing and wire
// serialization (see Register and ID).
type Task interface {
	// Namespace and Name together form the type discriminator under
	// which the task's concrete Go type is Register-ed.
	Namespace() string
	Name() string

	// Version identifies the run implementation; it is not part of
	// the task's content-addressed identity but is recorded alongside
	// it so the registry can distinguish runs of the same logical task
	// under a changed implementation.
	Version() string

	// Params returns the task's parameters: a struct (or map) that is
	// JSON-serializable and whose fields determine the task's content
	// hash. Fields may carry a `stardag` struct tag to control hash-mode
	// canonicalization; see CanonicalJSON.
	Params() any

	// Requires returns the task's static dependencies, discovered
	// up front by the build engine before any task runs.
	Requires() Struct
}

// CompletionChecker is implemented by tasks that can report whether
// their output already exists, letting the build engine skip a subtree
// whose root is already complete.
type CompletionChecker interface {
	Task
	Complete(ctx context.Context) (bool, error)
}

// Step is returned by Runnable.Start/Resume: either the task is done, or
// it has yielded a further batch of dependencies that must reach
// completed status before Resume is called again.
type Step struct {
	Done  bool
	Yield Struct
}

// Done is the terminal Step for a task with no dynamic dependencies.
var Done = Step{Done: true}

// Runnable is implemented by tasks with actual work to execute, as
// opposed to pure aggregation nodes that exist only to express Requires.
//
// Start begins execution. If it returns a Step with Done false, the
// engine waits for every task in Step.Yield to reach completed status
// and then calls Resume — which may itself yield another batch before
// finally returning Done. A task that yields is expected to hold onto
// the tasks it yielded (as fields on itself) so that once Resume is
// called it can read their now-guaranteed-complete outputs; the engine
// passes nothing back into Resume beyond the guarantee that the
// previously yielded batch is complete.
type Runnable interface {
	Task
	Start(ctx context.Context) (Step, error)
	Resume(ctx context.Context) (Step, error)
}

// Struct is anything Requires or a Step's Yield may return: a single
// Task, a slice of Structs, or a map of Structs. Mirrors the source's
// TaskStruct union so task graphs can be expressed with ordinary Go
// slices and maps instead of forcing every dependency list to be flat.
type Struct any

// Flatten walks a Struct and returns every Task it contains, depth
// first. A nil Struct flattens to nil.
func Flatten(s Struct) []Task {
	switch v := s.(type) {
	case nil:
		return nil
	case Task:
		return []Task{v}
	case []Task:
		out := make([]Task, len(v))
		copy(out, v)
		return out
	case []Struct:
		var out []Task
		for _, sub := range v {
			out = append(out, Flatten(sub)...)
		}
		return out
	case map[string]Struct:
		var out []Task
		for _, sub := range v {
			out = append(out, Flatten(sub)...)
		}
		return out
	default:
		return nil
	}
}

// BaseTask supplies the defaults most task types want: no dependencies
// and an empty version. Embed it and override Requires/Version/Params
// as needed.
type BaseTask struct{}

func (BaseTask) Version() string  { return "" }
func (BaseTask) Requires() Struct { return nil }
