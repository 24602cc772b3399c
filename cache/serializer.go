package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/idemguard/xerrors"
)

// serializer 缓存值的编解码
type serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(value any) ([]byte, error)     { return json.Marshal(value) }
func (jsonSerializer) Unmarshal(data []byte, dest any) error { return json.Unmarshal(data, dest) }

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(value any) ([]byte, error)     { return msgpack.Marshal(value) }
func (msgpackSerializer) Unmarshal(data []byte, dest any) error { return msgpack.Unmarshal(data, dest) }

func newSerializer(name string) (serializer, error) {
	switch name {
	case "json":
		return jsonSerializer{}, nil
	case "msgpack":
		return msgpackSerializer{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupportedSerializer, "%q", name)
	}
}
