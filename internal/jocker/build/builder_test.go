package build

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the Jockerfile grammar directly through the
// parser helpers. Full build execution requires a Linux kernel with
// namespace/overlay/cgroup privileges and is not exercised here; see
// internal/jocker/container for the runtime pieces.

func TestBuild_EmptyScript(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader(""), "")
	assert.ErrorIs(t, err, ErrEmptyBuildScript)
}

func TestBuild_BlankLinesOnlyIsEmpty(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("\n\n   \n"), "")
	assert.ErrorIs(t, err, ErrEmptyBuildScript)
}

func TestBuild_MissingFromDirective(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("RUN true"), "")
	assert.ErrorIs(t, err, ErrMissingFromDirective)
}

func TestBuild_FromAloneIsInvalid(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("FROM"), "")
	assert.ErrorIs(t, err, ErrInvalidFromDirective)
}

func TestBuild_FromWithExtraTokensIsInvalid(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("FROM base extra"), "")
	assert.ErrorIs(t, err, ErrInvalidFromDirective)
}

func TestBuild_UnknownDirective(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("FROM base\nCOPY x y"), "")

	var invalidCmd *InvalidCommandError
	require.ErrorAs(t, err, &invalidCmd)
	assert.Equal(t, "COPY", invalidCmd.Token)
}

func TestBuild_RunWithNoArguments(t *testing.T) {
	b := &Builder{}
	err := b.Build(strings.NewReader("FROM base\nRUN"), "")

	var invalidArgs *InvalidArgumentsError
	require.ErrorAs(t, err, &invalidArgs)
	assert.Equal(t, 1, invalidArgs.Expected)
	assert.Equal(t, 0, invalidArgs.Got)
}

func TestParseFromDirective(t *testing.T) {
	name, err := parseFromDirective("FROM alpine")
	require.NoError(t, err)
	assert.Equal(t, "alpine", name)
}

func TestParseStep_Run(t *testing.T) {
	s, err := parseStep("RUN touch /a")
	require.NoError(t, err)
	assert.Equal(t, "touch /a", s.run)
	assert.Equal(t, `RUN touch /a`, s.String())
}
