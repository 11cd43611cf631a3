package yamlspec_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/espalier/pkg/adapters/yamlspec"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const claimsYAML = `
key: claims
initial: intro
states:
  intro:
    kind: user
    template: intro
  extract:
    kind: invoker
    plan:
      - summarize
      - sentiment: score_sentiment
        entities:
          - find_entities
          - rank_entities
      - finalize
  review:
    kind: user
    name: Review Findings
    template: review
transitions:
  - event: start
    source: intro
    target: extract
  - event: ai_extraction
    source: extract
    target: review
`

func TestLoad_CompositeMachine(t *testing.T) {
	m, err := yamlspec.Load(strings.NewReader(claimsYAML))
	require.NoError(t, err)

	assert.Equal(t, "claims", m.Key)
	assert.Equal(t, "intro", m.Initial)
	require.Len(t, m.States, 3)
	assert.Equal(t, domain.KindUser, m.States["intro"].Kind)
	assert.Equal(t, "Review Findings", m.States["review"].Name)

	plan := m.States["extract"].Plan
	require.NotNil(t, plan)
	require.Equal(t, domain.PlanChain, plan.Kind)
	require.Len(t, plan.Seq, 3)

	assert.Equal(t, domain.PlanAtomic, plan.Seq[0].Kind)
	assert.Equal(t, "summarize", plan.Seq[0].Unit)

	branch := plan.Seq[1]
	require.Equal(t, domain.PlanBranch, branch.Kind)
	require.Len(t, branch.Arms, 2)
	// Arms are ordered by name for deterministic compilation.
	assert.Equal(t, "entities", branch.Arms[0].Name)
	assert.Equal(t, domain.PlanChain, branch.Arms[0].Node.Kind)
	assert.Equal(t, "sentiment", branch.Arms[1].Name)
	assert.Equal(t, "score_sentiment", branch.Arms[1].Node.Unit)

	require.Len(t, m.Transitions, 2)
	assert.Equal(t, "start", m.Transitions[0].Event)
}

func TestLoad_Rejections(t *testing.T) {
	cases := map[string]string{
		"missing key":  "initial: a\nstates: {}\n",
		"unknown kind": "key: k\ninitial: a\nstates:\n  a: {kind: wizard}\n",
		"bad plan":     "key: k\ninitial: a\nstates:\n  a: {kind: invoker, plan: 42}\n",
		"unused field": "key: k\ninitial: a\nbogus: true\nstates: {}\n",
		"bare transition": `
key: k
initial: a
states:
  a: {kind: user, template: a}
transitions:
  - event: go
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := yamlspec.Load(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "claims.yaml"), []byte(claimsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	machines, err := yamlspec.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "claims", machines[0].Key)

	_, err = yamlspec.LoadDir(t.TempDir())
	assert.Error(t, err, "an empty directory is a configuration mistake")
}
