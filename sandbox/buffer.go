package sandbox

import (
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/dop251/goja"

	"github.com/saiset-co/sai-zap/types"
)

//go:embed buffer.js
var bufferPrelude string

func (i *Instance) installBuffer() error {
	codec := i.vm.NewObject()

	if err := codec.Set("decode", func(call goja.FunctionCall) goja.Value {
		data, err := decodeString(call.Argument(0).String(), call.Argument(1).String())
		if err != nil {
			panic(i.vm.NewTypeError(err.Error()))
		}
		return i.vm.ToValue(i.vm.NewArrayBuffer(data))
	}); err != nil {
		return err
	}

	if err := codec.Set("encode", func(call goja.FunctionCall) goja.Value {
		data, err := i.bytesOf(call.Argument(0))
		if err != nil {
			panic(i.vm.NewTypeError(err.Error()))
		}
		text, err := encodeBytes(data, call.Argument(1).String())
		if err != nil {
			panic(i.vm.NewTypeError(err.Error()))
		}
		return i.vm.ToValue(text)
	}); err != nil {
		return err
	}

	factory, err := i.vm.RunScript("buffer.js", bufferPrelude)
	if err != nil {
		return err
	}

	build, ok := goja.AssertFunction(factory)
	if !ok {
		return types.Errorf(types.ErrNotSupported, "buffer prelude did not produce a factory")
	}

	buffer, err := build(goja.Undefined(), codec)
	if err != nil {
		return err
	}

	return i.vm.Set("Buffer", buffer)
}

// bytesOf exports an ArrayBuffer, typed array, DataView or string as bytes.
// Views share memory with the runtime.
func (i *Instance) bytesOf(value goja.Value) ([]byte, error) {
	if s, ok := value.Export().(string); ok {
		return []byte(s), nil
	}

	var data []byte
	if err := i.vm.ExportTo(value, &data); err != nil {
		return nil, err
	}

	return data, nil
}

type errUnsupportedEncoding string

func (e errUnsupportedEncoding) Error() string {
	return "unknown encoding: " + string(e)
}

func decodeString(s, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8":
		return []byte(s), nil
	case "hex":
		if len(s)%2 == 1 {
			s = s[:len(s)-1]
		}
		return hex.DecodeString(s)
	case "base64":
		s = strings.TrimRight(s, "=")
		return base64.RawStdEncoding.DecodeString(s)
	case "base64url":
		s = strings.TrimRight(s, "=")
		return base64.RawURLEncoding.DecodeString(s)
	case "latin1", "binary", "ascii":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out, nil
	default:
		return nil, errUnsupportedEncoding(encoding)
	}
}

func encodeBytes(data []byte, encoding string) (string, error) {
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8":
		return string(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(data), nil
	case "latin1", "binary", "ascii":
		runes := make([]rune, len(data))
		for n, b := range data {
			runes[n] = rune(b)
		}
		return string(runes), nil
	default:
		return "", errUnsupportedEncoding(encoding)
	}
}
