package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindFatalOnlyForJournalFailure(t *testing.T) {
	assert.True(t, ErrJournalFailure.Fatal())
	assert.False(t, ErrStageInternal.Fatal())
	assert.False(t, ErrUserCancelled.Fatal())
}

func TestNewErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrConnectorUnavailable, cause)
	assert.Equal(t, "connector_unavailable: boom", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestNewErrorWithNilCauseUsesKindAsMessage(t *testing.T) {
	err := NewError(ErrNoSuitableOption, nil)
	assert.Equal(t, "no_suitable_option", err.Error())
}

func TestKindOfExtractsWrappedKindOrDefaults(t *testing.T) {
	err := NewError(ErrRiskBlocked, nil)
	assert.Equal(t, ErrRiskBlocked, KindOf(err))

	wrapped := errors.New("some plain error")
	assert.Equal(t, ErrStageInternal, KindOf(wrapped))
}
