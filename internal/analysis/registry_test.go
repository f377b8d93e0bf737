package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	name EngineName
}

func (e stubEngine) Name() EngineName { return e.name }

func (e stubEngine) Analyze(context.Context, string) (EngineOutcome, error) {
	return EngineOutcome{Engine: e.name, Status: OutcomeSuccess, Score: 100}, nil
}

func newTestRegistry() *Registry {
	return NewRegistry(
		stubEngine{name: EngineTechnical},
		stubEngine{name: EnginePerformance},
		stubEngine{name: EngineSEO},
		stubEngine{name: EngineMobile},
	)
}

func TestRegistry_NamesSorted(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	require.Equal(t, []EngineName{EngineMobile, EnginePerformance, EngineSEO, EngineTechnical}, reg.Names())
	require.Equal(t, 4, reg.Len())
}

func TestRegistry_ValidateEngines(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()

	engines, err := reg.ValidateEngines([]EngineName{"technical", "SEO", "technical"})
	require.NoError(t, err)
	require.Equal(t, []EngineName{EngineTechnical, EngineSEO}, engines)

	_, err = reg.ValidateEngines(nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = reg.ValidateEngines([]EngineName{"technical", "astrology"})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, err.Error(), "astrology")
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	e, ok := reg.Resolve(EngineMobile)
	require.True(t, ok)
	require.Equal(t, EngineMobile, e.Name())

	_, ok = reg.Resolve("astrology")
	require.False(t, ok)
}
