package store

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
)

// TaskState is the derived status of one task within one build.
type TaskState struct {
	Status       TaskStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// FoldTaskEvents derives a task's status within a build from its ordered
// event stream. Events must already be sorted by CreatedAt ascending; the
// caller (store implementation) guarantees this via the
// (build, task, event_type) index.
//
// Absent any event, a task is pending. started_at is the earliest
// TASK_STARTED; completed_at is the latest TASK_COMPLETED/TASK_FAILED.
func FoldTaskEvents(events []Event) TaskState {
	state := TaskState{Status: TaskStatusPending}
	for _, ev := range events {
		switch ev.EventType {
		case EventTaskPending:
			state.Status = TaskStatusPending
		case EventTaskStarted:
			state.Status = TaskStatusRunning
			if state.StartedAt == nil {
				t := ev.CreatedAt
				state.StartedAt = &t
			}
		case EventTaskCompleted:
			state.Status = TaskStatusCompleted
			t := ev.CreatedAt
			state.CompletedAt = &t
			state.ErrorMessage = nil
		case EventTaskFailed:
			state.Status = TaskStatusFailed
			t := ev.CreatedAt
			state.CompletedAt = &t
			state.ErrorMessage = ev.ErrorMessage
		}
	}
	return state
}

// FoldTaskEventsByTask groups a build's events by task and folds each
// group independently, producing the batch mapping the registry API
// needs for "tasks in build" listings in a single pass.
func FoldTaskEventsByTask(events []Event) map[int64]TaskState {
	byTask := make(map[int64][]Event)
	for _, ev := range events {
		if ev.TaskPK == nil {
			continue
		}
		byTask[*ev.TaskPK] = append(byTask[*ev.TaskPK], ev)
	}

	out := make(map[int64]TaskState, len(byTask))
	for pk, evs := range byTask {
		out[pk] = FoldTaskEvents(evs)
	}
	return out
}

// BuildState is the derived status of a build.
type BuildState struct {
	Status      BuildStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// FoldBuildEvents derives a build's status from its build-scoped events
// (TaskPK == nil). Failed beats completed beats running beats pending,
// per the precedence in the component design.
func FoldBuildEvents(events []Event) BuildState {
	state := BuildState{Status: BuildStatusPending}
	var started, completed, failed bool
	var startedAt, completedAt time.Time

	for _, ev := range events {
		if ev.TaskPK != nil {
			continue
		}
		switch ev.EventType {
		case EventBuildStarted:
			if !started {
				startedAt = ev.CreatedAt
			}
			started = true
		case EventBuildCompleted:
			completed = true
			completedAt = ev.CreatedAt
		case EventBuildFailed:
			failed = true
			completedAt = ev.CreatedAt
		}
	}

	switch {
	case failed:
		state.Status = BuildStatusFailed
	case completed:
		state.Status = BuildStatusCompleted
	case started:
		state.Status = BuildStatusRunning
	default:
		state.Status = BuildStatusPending
	}
	if started {
		t := startedAt
		state.StartedAt = &t
	}
	if completed || failed {
		t := completedAt
		state.CompletedAt = &t
	}
	return state
}
