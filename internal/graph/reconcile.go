package graph

import (
	"github.com/loomorch/loom/internal/store"
)

// LoadFromStore reads every stage from st, builds a Graph, and corrects any
// stage file whose depth prefix has drifted from the freshly computed
// topological depth (a dependency added or removed since the file was last
// written). Drifted stages are saved again, which renames their file to
// the new depth prefix, and returned for the caller to log.
func LoadFromStore(st store.StageStore) (*Graph, []string, error) {
	stages, err := st.ListStages()
	if err != nil {
		return nil, nil, err
	}

	g := New()
	if err := g.Build(stages); err != nil {
		return nil, nil, err
	}

	depths := g.Depths()
	var renamed []string
	for _, stg := range stages {
		want := depths[stg.ID]
		if stg.Depth == want {
			continue
		}
		stg.Depth = want
		if err := st.SaveStage(stg); err != nil {
			return nil, nil, err
		}
		renamed = append(renamed, stg.ID)
	}
	return g, renamed, nil
}
