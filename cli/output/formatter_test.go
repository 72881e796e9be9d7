package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFormatter(format Format) (*Formatter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	f := NewFormatter(format, false, false)
	f.Writer = &out
	f.ErrWriter = &errOut
	return f, &out, &errOut
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type sample struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

func TestFormatter_Print(t *testing.T) {
	f, out, _ := newTestFormatter(FormatJSON)
	require.NoError(t, f.Print(sample{Name: "lodash", Version: "4.17.21"}))
	assert.JSONEq(t, `{"name":"lodash","version":"4.17.21"}`, out.String())

	f, out, _ = newTestFormatter(FormatYAML)
	require.NoError(t, f.Print(sample{Name: "lodash"}))
	assert.Equal(t, "name: lodash\n", out.String())
	assert.True(t, f.Structured())
}

func TestFormatter_PrintTable(t *testing.T) {
	data := TableData{
		Headers: []string{"PACKAGE", "VERSION"},
		Rows:    [][]string{{"lodash", "4.17.21"}, {"react", "18.3.0"}},
	}

	f, out, _ := newTestFormatter(FormatTable)
	f.PrintTable(data)
	assert.Contains(t, out.String(), "PACKAGE")
	assert.Contains(t, out.String(), "lodash")
	assert.Contains(t, out.String(), "18.3.0")

	f, out, _ = newTestFormatter(FormatTable)
	f.NoHeaders = true
	f.PrintTable(data)
	assert.NotContains(t, out.String(), "PACKAGE")

	f, out, _ = newTestFormatter(FormatJSON)
	f.PrintTable(data)
	assert.JSONEq(t, `[{"package":"lodash","version":"4.17.21"},{"package":"react","version":"18.3.0"}]`, out.String())
}

func TestFormatter_Quiet(t *testing.T) {
	f, out, errOut := newTestFormatter(FormatTable)
	f.Quiet = true

	require.NoError(t, f.Print(sample{Name: "x"}))
	f.PrintTable(TableData{Headers: []string{"A"}, Rows: [][]string{{"1"}}})
	f.PrintSuccess("done")
	f.PrintWarning("careful")
	f.PrintKeyValue("k", "v")

	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
}

func TestFormatter_Messages(t *testing.T) {
	f, out, errOut := newTestFormatter(FormatTable)
	f.PrintSuccess("Build complete")
	f.PrintWarning("react is not installed")
	f.PrintKeyValue("fingerprint", "abc")

	assert.Equal(t, "Build complete\nfingerprint: abc\n", out.String())
	assert.Equal(t, "Warning: react is not installed\n", errOut.String())

	f, out, _ = newTestFormatter(FormatJSON)
	f.PrintKeyValue("fingerprint", "abc")
	assert.JSONEq(t, `{"fingerprint":"abc"}`, out.String())
}
