package scripts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a11yeval/internal/harness"
)

func TestBuiltinScriptsRegistered(t *testing.T) {
	for _, name := range []string{"modal_dialog", "form_labels", "document_outline"} {
		s, ok := harness.Lookup(name)
		require.True(t, ok, "script %q not registered", name)
		assert.NotNil(t, s)
	}
}

func TestModalDialogAuditsMultipleStates(t *testing.T) {
	s, ok := harness.Lookup("modal_dialog")
	require.True(t, ok)
	_, stateful := s.(harness.StatefulAuditor)
	assert.True(t, stateful, "modal_dialog must audit closed and open states")
}
