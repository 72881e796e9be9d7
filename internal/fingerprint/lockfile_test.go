package fingerprint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLockfile_None(t *testing.T) {
	lf, err := ReadLockfile(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, lf)
}

func TestReadLockfile_Pnpm(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"v5", `lockfileVersion: 5.4
packages:
  /lodash/4.17.21:
    resolution: {integrity: sha512-x}
  /@acme/core/1.2.3_react@18.2.0:
    resolution: {integrity: sha512-y}
  /@acme/core/1.0.0:
    resolution: {integrity: sha512-z}
`},
		{"v6", `lockfileVersion: '6.0'
packages:
  /lodash@4.17.21:
    resolution: {integrity: sha512-x}
  /@acme/core@1.2.3(react@18.2.0):
    resolution: {integrity: sha512-y}
  /@acme/core@1.0.0:
    resolution: {integrity: sha512-z}
`},
		{"v9", `lockfileVersion: '9.0'
packages:
  lodash@4.17.21:
    resolution: {integrity: sha512-x}
  '@acme/core@1.2.3':
    resolution: {integrity: sha512-y}
  '@acme/core@1.0.0':
    resolution: {integrity: sha512-z}
snapshots:
  '@acme/core@1.2.3(react@18.2.0)': {}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "pnpm-lock.yaml"), tt.content)

			lf, err := ReadLockfile(dir)
			require.NoError(t, err)
			require.NotNil(t, lf)
			assert.Equal(t, FormatPnpm, lf.Format)
			assert.Equal(t, []string{"4.17.21"}, lf.Versions["lodash"])
			assert.Equal(t, []string{"1.0.0", "1.2.3"}, lf.Versions["@acme/core"])
		})
	}
}

func TestReadLockfile_NpmV1(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), `{
  "lockfileVersion": 1,
  "dependencies": {
    "express": {
      "version": "4.18.2",
      "dependencies": {
        "debug": { "version": "2.6.9" }
      }
    },
    "debug": { "version": "4.3.4" }
  }
}`)

	lf, err := ReadLockfile(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatNpm, lf.Format)
	assert.Equal(t, []string{"2.6.9", "4.3.4"}, lf.Versions["debug"])
	assert.Equal(t, []string{"4.18.2"}, lf.Versions["express"])
}

func TestReadLockfile_NpmSkipsLinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), `{
  "lockfileVersion": 3,
  "packages": {
    "": { "name": "app" },
    "packages/shared": { "version": "0.0.1" },
    "node_modules/shared": { "resolved": "packages/shared", "link": true },
    "node_modules/@types/node": { "version": "20.1.0" }
  }
}`)

	lf, err := ReadLockfile(dir)
	require.NoError(t, err)
	assert.NotContains(t, lf.Versions, "shared")
	assert.Equal(t, []string{"20.1.0"}, lf.Versions["@types/node"])
}

func TestReadLockfile_Yarn(t *testing.T) {
	t.Run("classic", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "yarn.lock"), `# THIS IS AN AUTOGENERATED FILE. DO NOT EDIT THIS FILE DIRECTLY.
# yarn lockfile v1


"@babel/code-frame@^7.0.0", "@babel/code-frame@^7.22.13":
  version "7.22.13"
  resolved "https://registry.yarnpkg.com/@babel/code-frame/-/code-frame-7.22.13.tgz"
  dependencies:
    chalk "^2.4.2"

chalk@^2.4.2:
  version "2.4.2"

chalk@^4.0.0:
  version "4.1.2"
`)
		lf, err := ReadLockfile(dir)
		require.NoError(t, err)
		assert.Equal(t, FormatYarn, lf.Format)
		assert.Equal(t, []string{"7.22.13"}, lf.Versions["@babel/code-frame"])
		assert.Equal(t, []string{"2.4.2", "4.1.2"}, lf.Versions["chalk"])
	})

	t.Run("berry", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "yarn.lock"), `__metadata:
  version: 6
  cacheKey: 8

"@babel/code-frame@npm:^7.0.0":
  version: 7.22.13
  resolution: "@babel/code-frame@npm:7.22.13"

"chalk@npm:^2.4.2, chalk@npm:^2.4.1":
  version: 2.4.2
  resolution: "chalk@npm:2.4.2"
`)
		lf, err := ReadLockfile(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"7.22.13"}, lf.Versions["@babel/code-frame"])
		assert.Equal(t, []string{"2.4.2"}, lf.Versions["chalk"])
		assert.NotContains(t, lf.Versions, "__metadata")
	})
}

func TestReadLockfile_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "yarn.lock"), "chalk@^4.0.0:\n  version \"4.1.2\"\n")
	writeFile(t, filepath.Join(dir, "pnpm-lock.yaml"), "packages:\n  /chalk@5.3.0: {}\n")

	lf, err := ReadLockfile(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatPnpm, lf.Format)
	assert.Equal(t, []string{"5.3.0"}, lf.Versions["chalk"])
}

func TestReadLockfile_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), `{"packages": `)
	_, err := ReadLockfile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package-lock.json")
}

func TestSortVersions(t *testing.T) {
	got := sortVersions([]string{"10.0.0", "2.0.0", "next", "2.0.0", "1.0.0-beta.1", "1.0.0"})
	assert.Equal(t, []string{"1.0.0-beta.1", "1.0.0", "2.0.0", "10.0.0", "next"}, got)
}
