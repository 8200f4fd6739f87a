package extrinsic

import (
	"fmt"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// RuntimeCall is a pallet call with its arguments. Args is a Mapping keyed
// by argument name, either as declared in metadata or re-cased by the
// catalog's name mapper.
type RuntimeCall struct {
	Module string
	Call   string
	Args   registry.Value
}

func NewRuntimeCall(module, call string, args ...registry.Entry) RuntimeCall {
	return RuntimeCall{Module: module, Call: call, Args: registry.Mapping(args...)}
}

func (c RuntimeCall) String() string {
	return c.Module + "." + c.Call
}

// Encode appends the pallet index, the call index and the arguments to enc.
func (c RuntimeCall) Encode(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) error {
	info, err := meta.Call(c.Module, c.Call)
	if err != nil {
		return fmt.Errorf("failed to find call %s: %w", c, err)
	}

	catalog := enc.Session().Catalog()

	args := make([]registry.Entry, 0, len(info.Args))
	for _, arg := range info.Args {
		mapped := catalog.MapName(arg.Name)

		v, ok := c.Args.Get(arg.Name)
		if !ok {
			v, ok = c.Args.Get(mapped)
		}

		if !ok {
			return fmt.Errorf("failed to encode call %s: %w", c, &registry.TypeError{
				Key: c.String(),
				Err: fmt.Errorf("%w: missing argument %q", registry.ErrInvalidValue, arg.Name),
			})
		}

		args = append(args, registry.Entry{Key: mapped, Value: v})
	}

	if len(args) != c.Args.Len() {
		return fmt.Errorf("failed to encode call %s: %w", c, &registry.TypeError{
			Key: c.String(),
			Err: fmt.Errorf("%w: got %d arguments, want %d", registry.ErrInvalidValue, c.Args.Len(), len(args)),
		})
	}

	if info.VariantType != "" {
		payload := registry.Null()
		if len(args) > 0 {
			payload = registry.Mapping(args...)
		}

		tmp := registry.NewDynamicEncoder(catalog, enc.Session().Version())
		if err := tmp.Encode(registry.Map(info.Name, payload), info.VariantType); err != nil {
			return fmt.Errorf("failed to encode call %s: %w", c, err)
		}

		enc.Append([]byte{info.ModuleIndex})
		enc.Append(tmp.Bytes())

		return nil
	}

	tmp := registry.NewDynamicEncoder(catalog, enc.Session().Version())
	tmp.Append([]byte{info.ModuleIndex, info.CallIndex})

	for i, arg := range info.Args {
		if err := tmp.Encode(args[i].Value, arg.Type); err != nil {
			return fmt.Errorf("failed to encode call %s argument %s: %w", c, arg.Name, err)
		}
	}

	enc.Append(tmp.Bytes())

	return nil
}

// EncodeBatch wraps several calls into Utility.batch.
func EncodeBatch(calls []RuntimeCall, enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) error {
	info, err := meta.Call("Utility", "batch")
	if err != nil {
		return fmt.Errorf("failed to find batch call: %w", err)
	}

	tmp := registry.NewDynamicEncoder(enc.Session().Catalog(), enc.Session().Version())
	tmp.Append([]byte{info.ModuleIndex, info.CallIndex})
	tmp.Append(scale.Compact(uint64(len(calls))))

	for _, call := range calls {
		if err := call.Encode(tmp, meta); err != nil {
			return err
		}
	}

	enc.Append(tmp.Bytes())

	return nil
}
