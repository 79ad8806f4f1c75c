package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital-self/internal/state"
	"digital-self/pkg/errors"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "sarah", "sarah"},
		{"mixed case", "John Smith", "john smith"},
		{"surrounding whitespace", "  John Smith  ", "john smith"},
		{"internal whitespace", "John \t  Smith", "john smith"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := New()
	ctx := context.Background()

	id1, err := r.Register(ctx, "u1", "John Smith", state.EntityTypePerson,
		map[string]string{"relationship": "work"}, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	id2, err := r.Register(ctx, "u1", "John Smith", state.EntityTypePerson,
		map[string]string{"relationship": "work"}, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	ent, err := r.Get(ctx, "u1", id1)
	require.NoError(t, err)
	assert.Equal(t, "work", ent.Data["relationship"])
	assert.Equal(t, []string{"john smith"}, ent.HumanRefs)
}

func TestRegister_CaseInsensitiveMatch(t *testing.T) {
	r := New()
	ctx := context.Background()

	id1, err := r.Register(ctx, "u1", "John Smith", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	id2, err := r.Register(ctx, "u1", "john smith", state.EntityTypePerson, nil, state.ProvenanceExplicit, false)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestRegister_MergeKeepsExistingFields(t *testing.T) {
	r := New()
	ctx := context.Background()

	id, err := r.Register(ctx, "u1", "Sarah", state.EntityTypePerson,
		map[string]string{"relationship": "manager"}, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	// Existing non-empty field wins without override; empty incoming values
	// never overwrite; new fields are added.
	_, err = r.Register(ctx, "u1", "Sarah", state.EntityTypePerson,
		map[string]string{"relationship": "friend", "channel": "email", "phone": ""},
		state.ProvenanceObserved, false)
	require.NoError(t, err)

	ent, err := r.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "manager", ent.Data["relationship"])
	assert.Equal(t, "email", ent.Data["channel"])
	_, hasPhone := ent.Data["phone"]
	assert.False(t, hasPhone)
}

func TestRegister_OverrideReplacesFields(t *testing.T) {
	r := New()
	ctx := context.Background()

	id, err := r.Register(ctx, "u1", "Sarah", state.EntityTypePerson,
		map[string]string{"relationship": "manager"}, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	_, err = r.Register(ctx, "u1", "Sarah", state.EntityTypePerson,
		map[string]string{"relationship": "friend"}, state.ProvenanceExplicit, true)
	require.NoError(t, err)

	ent, err := r.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "friend", ent.Data["relationship"])
}

func TestRegister_AppendsAliases(t *testing.T) {
	r := New()
	ctx := context.Background()

	id, err := r.Register(ctx, "u1", "Jonathan Smith", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	// A new spelling of the same normalized name lands as an alias; a brand
	// new human ref for the merged entity is indexed too.
	_, err = r.Register(ctx, "u1", "jonathan  smith", state.EntityTypePerson, nil, state.ProvenanceExplicit, false)
	require.NoError(t, err)

	ent, err := r.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jonathan Smith", "jonathan  smith"}, ent.Aliases)
	assert.Equal(t, []string{"jonathan smith"}, ent.HumanRefs)
}

func TestResolve_NoMatch(t *testing.T) {
	r := New()
	ctx := context.Background()

	res, err := r.Resolve(ctx, "u1", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, res.ExactMatch)
	assert.Empty(t, res.Candidates)
}

func TestResolve_AmbiguitySurfaced(t *testing.T) {
	r := New()
	ctx := context.Background()

	_, err := r.Register(ctx, "u1", "John Smith", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)
	_, err = r.Register(ctx, "u1", "John Doe", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, "u1", "John")
	require.NoError(t, err)
	assert.Nil(t, res.ExactMatch, "registry must never silently pick among plausible matches")
	assert.Len(t, res.Candidates, 2)

	_, err = r.ResolveStrict(ctx, "u1", "John")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrorTypeAmbiguous))
}

func TestResolve_FuzzyTypo(t *testing.T) {
	r := New()
	ctx := context.Background()

	id, err := r.Register(ctx, "u1", "Sarah Connor", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, "u1", "Sarha")
	require.NoError(t, err)
	assert.Nil(t, res.ExactMatch)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, id, res.Candidates[0].CanonicalID)
}

func TestResolve_UserIsolation(t *testing.T) {
	r := New()
	ctx := context.Background()

	_, err := r.Register(ctx, "u1", "Sarah", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, "u2", "Sarah")
	require.NoError(t, err)
	assert.Nil(t, res.ExactMatch)
	assert.Empty(t, res.Candidates)
}

func TestRegister_ConcurrentSameName(t *testing.T) {
	r := New()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = r.Register(ctx, "u1", "John Smith", state.EntityTypePerson, nil, state.ProvenanceObserved, false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i], "concurrent registrations must resolve to one survivor")
	}
}

func TestRemoveUser(t *testing.T) {
	r := New()
	ctx := context.Background()

	id, err := r.Register(ctx, "u1", "Sarah", state.EntityTypePerson, nil, state.ProvenanceOnboarding, false)
	require.NoError(t, err)

	require.NoError(t, r.RemoveUser(ctx, "u1"))

	_, err = r.Get(ctx, "u1", id)
	assert.True(t, errors.IsErrorType(err, errors.ErrorTypeNotFound))

	// Idempotent
	require.NoError(t, r.RemoveUser(ctx, "u1"))
}

func TestAddData_UnknownEntity(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.AddData(ctx, "u1", "missing", map[string]string{"k": "v"})
	assert.True(t, errors.IsErrorType(err, errors.ErrorTypeNotFound))
}
