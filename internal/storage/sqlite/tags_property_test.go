package sqlite

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestAddTags_UnionProperty checks that successive AddTags calls only ever
// grow the tag set and never store duplicates.
func TestAddTags_UnionProperty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	var nextID uint64
	properties.Property("tags are a duplicate-free superset of every added set", prop.ForAll(
		func(first, second []string) bool {
			nextID++
			if _, err := s.Upsert(ctx, baseUpsert(nextID)); err != nil {
				return false
			}
			if err := s.AddTags(ctx, nextID, first); err != nil {
				return false
			}
			if err := s.AddTags(ctx, nextID, second); err != nil {
				return false
			}
			agent, err := s.Get(ctx, nextID)
			if err != nil {
				return false
			}

			have := make(map[string]bool, len(agent.Tags))
			for _, tag := range agent.Tags {
				if have[tag] {
					return false
				}
				have[tag] = true
			}
			for _, tag := range append(append([]string{}, first...), second...) {
				if tag != "" && !have[tag] {
					return false
				}
			}
			return sort.StringsAreSorted(agent.Tags)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
