package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	msg, err := Parse([]byte(`{"id":"1","type":"start","payload":{"operation":"mutation","operationName":"renameObject"}}`))
	require.NoError(t, err)
	require.Equal(t, MsgStart, msg.Type)
	require.Equal(t, "1", msg.ID)

	var start StartPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &start))
	require.Equal(t, OperationMutation, start.Operation)

	_, err = Parse([]byte(`{"id":"1"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestData(t *testing.T) {
	msg, err := Data("7", "renameObject", map[string]string{"__typename": "SuccessPayload"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"7","type":"data","payload":{"data":{"renameObject":{"__typename":"SuccessPayload"}}}}`, string(data))
}

func TestErrorFrames(t *testing.T) {
	data, err := json.Marshal(Error("3", "operation id already in use"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"3","type":"error","payload":[{"message":"operation id already in use"}]}`, string(data))

	data, err = json.Marshal(ConnectionError("bad init"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connection_error","payload":{"message":"bad init"}}`, string(data))
}

func TestNewWithoutPayload(t *testing.T) {
	msg, err := New(MsgConnectionAck, "", nil)
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connection_ack"}`, string(data))
}
