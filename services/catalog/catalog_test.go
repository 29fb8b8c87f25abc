package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallCatalog = `
frameworks:
  - name: "SOC 2"
    version: "2017"
    controls:
      - code: "CC1.1"
        title: "Integrity"
        category: "Control Environment"
        severity: High
      - code: "CC6.1"
        title: "Logical Access"
        category: "Logical Access"
        severity: Critical
`

func TestDefault(t *testing.T) {
	c := Default()
	require.Len(t, c.Frameworks, 3)

	names := make([]string, 0, len(c.Frameworks))
	for _, fw := range c.Frameworks {
		names = append(names, fw.Name)
		assert.NotEmpty(t, fw.Controls, fw.Name)
	}
	assert.ElementsMatch(t, []string{"SOC 2", "ISO 27001", "GDPR"}, names)
	assert.Equal(t, 83, c.ControlCount())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "valid", data: smallCatalog},
		{name: "not yaml", data: "frameworks: [", wantErr: "parse catalog"},
		{name: "empty", data: "frameworks: []", wantErr: "no frameworks"},
		{
			name: "duplicate framework",
			data: `
frameworks:
  - name: GDPR
  - name: GDPR
`,
			wantErr: "defined twice",
		},
		{
			name: "duplicate code",
			data: `
frameworks:
  - name: GDPR
    controls:
      - {code: "A", title: "a", severity: Low}
      - {code: "A", title: "b", severity: Low}
`,
			wantErr: `control "A" is defined twice`,
		},
		{
			name: "bad severity",
			data: `
frameworks:
  - name: GDPR
    controls:
      - {code: "A", title: "a", severity: Urgent}
`,
			wantErr: "invalid severity",
		},
		{
			name: "missing title",
			data: `
frameworks:
  - name: GDPR
    controls:
      - {code: "A", severity: Low}
`,
			wantErr: "code and title are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, c.ControlCount())
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses the embedded catalog", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		assert.Len(t, c.Frameworks, 3)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o600))

		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "SOC 2", c.Frameworks[0].Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
