package schedule

import (
	"strings"

	"famcal/internal/model"
)

type dedupKey struct {
	summary string
	start   int64
	end     int64
}

func keyOf(e model.Event) dedupKey {
	return dedupKey{
		summary: strings.ToLower(strings.TrimSpace(e.Summary)),
		start:   e.Start.UnixNano(),
		end:     e.End.UnixNano(),
	}
}

// Dedupe merges events that share a case-insensitive trimmed summary and
// exact start and end instants. The first event seen is kept as the
// representative and its Persons become the union of all duplicates.
// Input events are never mutated.
func Dedupe(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	index := make(map[dedupKey]int, len(events))

	for _, ev := range events {
		k := keyOf(ev)
		if i, ok := index[k]; ok {
			for _, p := range ev.Persons {
				if !out[i].HasPerson(p) {
					out[i].Persons = append(out[i].Persons, p)
				}
			}
			continue
		}
		index[k] = len(out)
		out = append(out, ev.Clone())
	}
	return out
}
