package sandbox

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/saiset-co/sai-zap/types"
)

const maxRandomBytes = 65536

var digests = map[string]func() hash.Hash{
	"SHA-1":    sha1.New,
	"SHA-256":  sha256.New,
	"SHA-384":  sha512.New384,
	"SHA-512":  sha512.New,
	"SHA3-256": sha3.New256,
	"SHA3-512": sha3.New512,
}

func (i *Instance) installCrypto() error {
	vm := i.vm
	crypto := vm.NewObject()
	subtle := vm.NewObject()

	if err := crypto.Set("randomUUID", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(uuid.NewString())
	}); err != nil {
		return err
	}

	if err := crypto.Set("getRandomValues", func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0)

		if _, ok := target.(*goja.Object); !ok {
			panic(vm.NewTypeError("getRandomValues expects an integer typed array"))
		}

		data, err := i.bytesOf(target)
		if err != nil {
			panic(vm.NewTypeError("getRandomValues expects an integer typed array"))
		}
		if len(data) > maxRandomBytes {
			panic(vm.NewTypeError("getRandomValues request exceeds 65536 bytes"))
		}
		if _, err = rand.Read(data); err != nil {
			panic(vm.NewGoError(err))
		}

		return target
	}); err != nil {
		return err
	}

	if err := subtle.Set("digest", func(call goja.FunctionCall) goja.Value {
		algorithm := call.Argument(0)
		if obj, ok := algorithm.(*goja.Object); ok {
			algorithm = obj.Get("name")
		}

		name := ""
		if algorithm != nil {
			name = strings.ToUpper(algorithm.String())
		}

		newHash, ok := digests[name]
		if !ok {
			return i.rejected(types.Errorf(types.ErrNotSupported, "digest algorithm %q", name))
		}

		data, err := i.bytesOf(call.Argument(1))
		if err != nil {
			return i.rejected(types.WrapError(err, "digest data must be a BufferSource"))
		}

		h := newHash()
		h.Write(data)

		return i.resolved(vm.NewArrayBuffer(h.Sum(nil)))
	}); err != nil {
		return err
	}

	if err := crypto.Set("subtle", subtle); err != nil {
		return err
	}

	return vm.Set("crypto", crypto)
}
