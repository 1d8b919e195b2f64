package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/atapdf/observability"
	"github.com/hazyhaar/atapdf/ops"
)

// JournalRecorder records every outcome as a journal entry.
func JournalRecorder(j *observability.Journal) Recorder {
	return journalRecorder{j: j}
}

type journalRecorder struct {
	j *observability.Journal
}

func (r journalRecorder) Record(_ context.Context, o *Outcome) {
	r.j.LogAsync(Entry(o))
}

// Entry converts an outcome into its journal form.
func Entry(o *Outcome) *observability.Entry {
	e := &observability.Entry{
		Kind:       string(o.Kind),
		Status:     string(o.State),
		DurationMs: o.Duration.Milliseconds(),
		Inputs:     o.Inputs,
		BytesIn:    o.BytesIn,
		BytesOut:   o.BytesOut,
		RequestID:  o.RequestID,
		TraceID:    o.TraceID,
	}
	if o.Err != nil {
		e.ErrorCode = string(ops.CodeOf(o.Err))
		e.ErrorMessage = o.Err.Error()
	}
	names := make([]string, 0, len(o.Artifacts))
	for _, a := range o.Artifacts {
		names = append(names, a.Name)
	}
	if b, err := json.Marshal(names); err == nil {
		e.Artifacts = string(b)
	}
	if b, err := json.Marshal(o.Transitions); err == nil {
		e.Transitions = string(b)
	}
	return e
}
