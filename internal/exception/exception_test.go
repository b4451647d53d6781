package exception

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Configuration("endpoint", "cannot resolve \"foo\"", ErrUnknownOperation)
	assert.Equal(t, `[endpoint] cannot resolve "foo": unknown operation`, err.Error())
	assert.True(t, errors.Is(err, ErrUnknownOperation))

	v := Validation("transform", "column [%s] cannot be empty", "name")
	assert.Equal(t, "[transform] column [name] cannot be empty", v.Error())
	assert.Nil(t, v.Unwrap())
}

func TestKindOfWrapped(t *testing.T) {
	base := Authentication("dispatch", "probe rejected", errors.New("HTTP 401"))
	wrapped := fmt.Errorf("run aborted: %w", base)

	assert.Equal(t, KindAuthentication, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindAuthentication))
	assert.False(t, Is(wrapped, KindValidation))
	assert.True(t, IsFatal(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("connection reset")))
	assert.False(t, IsFatal(New(KindRecord, "dispatch", "HTTP 400", nil)))
	assert.True(t, IsFatal(Validation("transform", "empty key")))
	assert.True(t, IsFatal(Configuration("config", "no token", ErrMissingCredential)))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "record", KindRecord.String())
	assert.Equal(t, "configuration", KindConfiguration.String())
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "authentication", KindAuthentication.String())
}
