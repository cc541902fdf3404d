package orchestrator

import (
	"fmt"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/stores"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

func (o *Orchestrator) publishStarted(runID string, op stores.Operation, id engine.Identity) {
	o.events.Publish(telemetry.Event{
		Type:     telemetry.EventTypeRunStarted,
		RunID:    runID,
		Identity: string(id),
		Message:  fmt.Sprintf("Run %s started", runID),
		Data: map[string]interface{}{
			"operation": string(op),
		},
	})
}

// publishCompleted publishes one event per provider result followed by the
// run summary.
func (o *Orchestrator) publishCompleted(run *stores.Run) {
	if o.events == nil {
		return
	}

	for _, r := range run.Results {
		event := telemetry.Event{
			Type:     telemetry.EventTypeProviderCompleted,
			RunID:    run.ID,
			Identity: r.Identity,
			Message:  fmt.Sprintf("Provider %s completed", r.Identity),
			Data: map[string]interface{}{
				"created":  r.Created,
				"changed":  r.Changed,
				"duration": r.Duration.Seconds(),
			},
		}
		if r.Error != "" {
			event.Type = telemetry.EventTypeProviderFailed
			event.Level = telemetry.EventLevelError
			event.Message = fmt.Sprintf("Provider %s failed: %s", r.Identity, r.Error)
		}
		o.events.Publish(event)
	}

	level := telemetry.EventLevelInfo
	switch run.Status {
	case stores.RunStatusPartial:
		level = telemetry.EventLevelWarning
	case stores.RunStatusFailed:
		level = telemetry.EventLevelError
	}

	o.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeRunCompleted,
		RunID:   run.ID,
		Level:   level,
		Message: fmt.Sprintf("Run %s completed with status: %s", run.ID, run.Status),
		Data: map[string]interface{}{
			"operation": string(run.Operation),
			"status":    string(run.Status),
			"created":   run.TotalCreated,
			"changed":   run.TotalChanged,
			"failed":    run.Failed,
			"duration":  run.Duration().Seconds(),
		},
	})
}
