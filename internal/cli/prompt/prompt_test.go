package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrapError(promptui.ErrAbort), ErrAborted)

	other := errors.New("boom")
	assert.Equal(t, other, wrapError(other))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(ErrAborted))
	assert.True(t, IsAborted(fmt.Errorf("wrapped: %w", promptui.ErrInterrupt)))
	assert.False(t, IsAborted(ErrNotInteractive))
}

func TestConfirmWithForce(t *testing.T) {
	ok, err := ConfirmWithForce("overwrite?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestSelectTemplates(t *testing.T) {
	assert.Empty(t, selectTemplates(false).Details)
	assert.Contains(t, selectTemplates(true).Details, "Description")
}
