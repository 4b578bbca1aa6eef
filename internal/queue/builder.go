package queue

import (
	"github.com/google/uuid"

	"github.com/haasonsaas/vibelab/internal/experiments"
)

// Build expands def into tasks: for each prompt, each model and each included
// variation, n tasks with instance indexes 1..n. Order is definition order and
// every task starts pending with a fresh ID.
//
// The only definition Build rejects is one where an included variation
// resolves to a non-positive instance count; that yields a
// *experiments.ConfigurationError and no tasks. Content checks such as blank
// prompts or duplicate models belong to experiments.Validate at load time.
// Empty prompt, model or variation lists yield an empty queue.
func Build(def *experiments.Definition) ([]*Task, error) {
	if def == nil {
		return nil, &experiments.ConfigurationError{Reason: "definition is required"}
	}
	size, err := def.Size()
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, size)
	for _, prompt := range def.Prompts {
		for _, model := range def.Models {
			for _, variation := range def.Variations {
				if !def.Included(variation) {
					continue
				}
				n, err := def.ResolveInstances(variation)
				if err != nil {
					return nil, err
				}
				for i := 1; i <= n; i++ {
					tasks = append(tasks, &Task{
						ID:            uuid.NewString(),
						ExperimentID:  def.ID,
						Position:      len(tasks),
						Prompt:        prompt,
						Model:         model,
						Variation:     variation,
						InstanceIndex: i,
						Animated:      prompt.Animated,
						Status:        StatusPending,
						Progress:      ProgressQueued,
					})
				}
			}
		}
	}
	return tasks, nil
}

// Requeue returns a fresh pending task for every failed task in tasks, in
// queue order, with new IDs and positions. Results, errors and timestamps
// are not carried over; the originals are left untouched.
func Requeue(tasks []*Task) []*Task {
	var out []*Task
	for _, t := range tasks {
		if t == nil || t.Status != StatusFailed {
			continue
		}
		out = append(out, &Task{
			ID:            uuid.NewString(),
			ExperimentID:  t.ExperimentID,
			Position:      len(out),
			Prompt:        t.Prompt,
			Model:         t.Model,
			Variation:     t.Variation,
			InstanceIndex: t.InstanceIndex,
			Animated:      t.Animated,
			Status:        StatusPending,
			Progress:      ProgressQueued,
		})
	}
	return out
}
