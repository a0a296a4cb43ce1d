package task

import "fmt"

// Ref is a lightweight, serializable reference to a task: enough to
// display or look it up without holding the full task graph in memory.
type Ref struct {
	Name    string
	Version string
	ID      string
}

// RefOf builds a Ref from a live task, computing its content-addressed id.
func RefOf(t Task) (Ref, error) {
	id, err := ID(t)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Name: t.Name(), Version: t.Version(), ID: id}, nil
}

// Slug is a short, human-friendly label for the task: its name, version
// (if any), and the first 8 characters of its id.
func (r Ref) Slug() string {
	short := r.ID
	if len(short) > 8 {
		short = short[:8]
	}
	if r.Version != "" {
		return fmt.Sprintf("%s-v%s-%s", r.Name, r.Version, short)
	}
	return fmt.Sprintf("%s-%s", r.Name, short)
}

func (r Ref) String() string { return r.Slug() }
