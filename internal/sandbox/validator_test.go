// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_CleanCodeIsValid(t *testing.T) {
	res := Validate("x = 1\nprint(x + 2)\n")
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestValidate_DeniedImportIsRejected(t *testing.T) {
	res := Validate("import subprocess\nsubprocess.run(['ls'])\n")
	require.False(t, res.Valid)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 1, res.Issues[0].Line)
}

func TestValidate_DeniedFromImportSubmoduleIsRejected(t *testing.T) {
	res := Validate("from urllib.request import urlopen\n")
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0].Reason, "urllib")
}

func TestValidate_DeniedDottedCallIsRejected(t *testing.T) {
	res := Validate("import os\nos.system('rm -rf /')\n")
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0].Reason, "os.system")
}

func TestValidate_DeniedBuiltinIsRejected(t *testing.T) {
	res := Validate("eval('1+1')\n")
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0].Reason, "eval")
}

func TestValidate_LineNumbersAreOneIndexed(t *testing.T) {
	res := Validate("x = 1\ny = 2\nimport socket\n")
	require.False(t, res.Valid)
	assert.Equal(t, 3, res.Issues[0].Line)
}

func TestValidate_MultipleIssuesAreAllReported(t *testing.T) {
	res := Validate("import subprocess\nimport socket\neval('1')\n")
	assert.Len(t, res.Issues, 3)
}
