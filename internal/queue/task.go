package queue

// TaskType mirrors the job type of the row the task points at. The queue
// never carries payloads; workers load the job row and its decoded payload
// from the store.
type TaskType string

const (
	TaskTypePlan    TaskType = "plan"
	TaskTypeExecute TaskType = "execute"
	TaskTypeRender  TaskType = "render"
)

type Task struct {
	TaskType        TaskType
	JobID           int64
	SessionID       int64
	StageSlug       string
	IterationNumber int
	Attempt         int
	TraceID         *string
}
