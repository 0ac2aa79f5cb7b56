package client

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelsync/collab/internal/protocol"
)

func TestValue(t *testing.T) {
	msg, err := protocol.Data("1", "renameObject", map[string]string{"id": "o1"})
	require.NoError(t, err)

	raw, err := Value(msg, "renameObject")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"o1"}`, string(raw))

	_, err = Value(msg, "other")
	require.Error(t, err)

	_, err = Value(protocol.Message{Type: protocol.MsgData, Payload: json.RawMessage(`[]`)}, "x")
	require.Error(t, err)
}

func TestWarnings(t *testing.T) {
	msg, err := protocol.Data("1", "createDocument", map[string]string{"id": "d1"}, "persistence failed: disk full")
	require.NoError(t, err)
	require.Equal(t, []string{"persistence failed: disk full"}, Warnings(msg))

	raw, err := Value(msg, "createDocument")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"d1"}`, string(raw))

	plain, err := protocol.Data("1", "createDocument", nil)
	require.NoError(t, err)
	require.Empty(t, Warnings(plain))
	require.NotContains(t, string(plain.Payload), "errors")
}

func TestErrorOf(t *testing.T) {
	err := ErrorOf(protocol.Error("1", "representation not found"))
	require.True(t, errors.Is(err, ErrOperation))
	require.Contains(t, err.Error(), "representation not found")

	err = ErrorOf(protocol.Message{Type: protocol.MsgError, Payload: json.RawMessage(`"odd"`)})
	require.ErrorIs(t, err, ErrOperation)
}
