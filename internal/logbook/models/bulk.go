package models

import (
	"sort"
	"strings"

	dErrors "logbook/pkg/domain-errors"
)

// ProcessIDOf returns the single owning process shared by every event.
// Empty input and batches spanning several processes are validation errors;
// nothing is written by callers when this fails.
func ProcessIDOf(events []Event) (string, error) {
	if len(events) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "at least one event is required")
	}
	groups := make(map[string]struct{}, 1)
	for _, e := range events {
		groups[e.EventIdentifierProcess] = struct{}{}
	}
	if len(groups) != 1 {
		ids := make([]string, 0, len(groups))
		for p := range groups {
			ids = append(ids, p)
		}
		sort.Strings(ids)
		return "", dErrors.Newf(dErrors.CodeValidation,
			"events span several processes: %s", strings.Join(ids, ", "))
	}
	if _, empty := groups[""]; empty {
		return "", dErrors.Newf(dErrors.CodeValidation, "event %s is required", FieldEventIdentifierProcess)
	}
	return events[0].EventIdentifierProcess, nil
}

// ProcessIDOfBatches applies ProcessIDOf across every event of every batch and
// rejects repeated object identifiers.
func ProcessIDOfBatches(batches []LifecycleBatch) (string, error) {
	if len(batches) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "at least one lifecycle is required")
	}
	seen := make(map[string]struct{}, len(batches))
	var all []Event
	for _, b := range batches {
		if len(b.Events) == 0 {
			return "", dErrors.Newf(dErrors.CodeValidation, "lifecycle %q has no events", b.ObjectIdentifier)
		}
		if _, dup := seen[b.ObjectIdentifier]; dup {
			return "", dErrors.Newf(dErrors.CodeValidation, "lifecycle %q appears twice", b.ObjectIdentifier)
		}
		seen[b.ObjectIdentifier] = struct{}{}
		all = append(all, b.Events...)
	}
	return ProcessIDOf(all)
}
