package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
)

// Marshal buffers are pooled per process; oversized ones are dropped
// instead of pinned.
var jsonBuffers = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonBuffers.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		if buf.Cap() < 16*1024 {
			jsonBuffers.Put(buf)
		}
	}()

	buf.Reset()
	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// MarshalString is for callers that keep JSON as text, such as values
// stored in a cell.
func MarshalString(data interface{}) (string, error) {
	return sonic.ConfigDefault.MarshalToString(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

func UnmarshalString(data string, target interface{}) error {
	return sonic.ConfigDefault.UnmarshalFromString(data, target)
}
