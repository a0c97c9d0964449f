package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyEmbeddedDefault(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	require.NotEmpty(t, policy.Roles)
	assert.Equal(t, []Permission{PermFinancialView}, policy.Channels["financial_updates"])
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  - name: viewer
    permissions: [dashboard:view]
`), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Len(t, policy.Roles, 1)
	assert.Equal(t, "viewer", policy.Roles[0].Name)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParsePolicyRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]struct {
		doc    string
		target error
	}{
		"unknown permission": {
			doc: `
roles:
  - name: user
    permissions: [booking:destroy]
`,
			target: ErrUnknownPermission,
		},
		"unknown inherited role": {
			doc: `
roles:
  - name: staff
    inherits: [nobody]
`,
			target: ErrUnknownRole,
		},
		"cycle": {
			doc: `
roles:
  - name: a
    inherits: [b]
  - name: b
    inherits: [c]
  - name: c
    inherits: [a]
`,
			target: ErrRoleCycle,
		},
		"self inheritance": {
			doc: `
roles:
  - name: a
    inherits: [a]
`,
			target: ErrRoleCycle,
		},
		"unknown channel permission": {
			doc: `
roles:
  - name: user
channels:
  dashboard: [dashboard:peek]
`,
			target: ErrUnknownPermission,
		},
		"duplicate role": {
			doc: `
roles:
  - name: user
  - name: user
`,
			target: ErrConfig,
		},
		"unknown field": {
			doc: `
roles:
  - name: user
    grants: [booking:view]
`,
			target: ErrConfig,
		},
		"no roles": {
			doc:    `channels: {}`,
			target: ErrConfig,
		},
		"missing role name": {
			doc: `
roles:
  - permissions: [booking:view]
`,
			target: ErrConfig,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tc.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	policy := &Policy{Roles: []Role{
		{Name: "a", Permissions: []Permission{"nope"}, Inherits: []string{"ghost"}},
	}}
	err := policy.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestFindCyclesReturnsClosingPath(t *testing.T) {
	cycles := findCycles(map[string]Role{
		"a": {Name: "a", Inherits: []string{"b"}},
		"b": {Name: "b", Inherits: []string{"a"}},
		"c": {Name: "c", Inherits: []string{"a"}},
	})
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, cycles[0])
}

func TestCatalogIsClosed(t *testing.T) {
	for _, p := range Catalog() {
		assert.True(t, IsKnown(p))
	}
	assert.False(t, IsKnown("booking:destroy"))

	perms := Catalog()
	perms[0] = "mutated"
	assert.Equal(t, PermBookingView, Catalog()[0])
}
