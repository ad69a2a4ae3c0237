package ddp

import (
	"encoding/json"
	"errors"

	"github.com/tsarna/ddp/pkg/ddp/ejson"
)

// ErrMissingKind is reported for frames that decode as JSON but carry no "msg" field.
var ErrMissingKind = errors.New(`ddp: frame has no "msg" field`)

// EJSONCodec is the default Codec. Payload values (params, result, error,
// fields) are converted to and from EJSON; the envelope is plain JSON.
type EJSONCodec struct{}

var _ Codec = EJSONCodec{}

func (EJSONCodec) Encode(msg *Message) ([]byte, error) {
	out := *msg
	out.Params = ejson.ToJSONValue(msg.Params)
	out.Result = ejson.ToJSONValue(msg.Result)
	out.Error = ejson.ToJSONValue(msg.Error)
	if msg.Fields != nil {
		out.Fields = make(map[string]any, len(msg.Fields))
		for k, v := range msg.Fields {
			out.Fields[k] = ejson.ToJSONValue(v)
		}
	}
	return json.Marshal(&out)
}

func (EJSONCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Msg == "" {
		return nil, ErrMissingKind
	}

	var err error
	if msg.Params, err = ejson.FromJSONValue(msg.Params); err != nil {
		return nil, err
	}
	if msg.Result, err = ejson.FromJSONValue(msg.Result); err != nil {
		return nil, err
	}
	if msg.Error, err = ejson.FromJSONValue(msg.Error); err != nil {
		return nil, err
	}
	for k, v := range msg.Fields {
		if msg.Fields[k], err = ejson.FromJSONValue(v); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}
