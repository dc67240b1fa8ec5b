package fs

import (
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestCheckedToAbsoluteSystemPath(t *testing.T) {
	cwd, err := GetCwd()
	assert.NilError(t, err, "GetCwd")

	checked, err := CheckedToAbsoluteSystemPath(cwd.ToString())
	assert.NilError(t, err, "CheckedToAbsoluteSystemPath")
	assert.Equal(t, checked, cwd)

	_, err = CheckedToAbsoluteSystemPath(filepath.Join("some", "relative", "path"))
	if err == nil {
		t.Error("expected an error for a relative path")
	}
}

func TestResolveUnknownPath(t *testing.T) {
	cwd, err := GetCwd()
	assert.NilError(t, err, "GetCwd")

	for _, test := range []struct {
		input    string
		expected string
	}{
		{
			"bar",
			cwd.UntypedJoin("bar").ToString(),
		},
		{
			filepath.Join("bar", "baz"),
			cwd.UntypedJoin("bar", "baz").ToString(),
		},
		{
			cwd.UntypedJoin("already", "absolute").ToString(),
			cwd.UntypedJoin("already", "absolute").ToString(),
		},
	} {
		resolved := ResolveUnknownPath(cwd, test.input)
		assert.Equal(t, resolved.ToString(), test.expected, test.input)
	}
}
