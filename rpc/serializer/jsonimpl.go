package serializer

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/ValentinKolb/dEdit/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding. Message
// types are written by name, e.g. {"msg_type":"steal-requested",...}, which is
// what browser clients of the websocket transport read.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding.
// HTML characters are not escaped, so a reject reason like "<draft>" reaches
// the requester unchanged.
type jsonSerializerImpl struct {
}

var errEmptyMessage = errors.New("empty message")

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	// Encode terminates every value with a newline, a websocket frame needs none
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return errEmptyMessage
	}
	*msg = common.Message{}
	return json.Unmarshal(b, msg)
}

func (j jsonSerializerImpl) Text() bool {
	return true
}
