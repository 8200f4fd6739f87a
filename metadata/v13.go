package metadata

import (
	"fmt"

	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// V13 is the legacy metadata layout. Every type is referenced by its
// textual name and must be resolved against JSON type definitions.
type V13 struct {
	Modules   []ModuleV13
	Extrinsic ExtrinsicV13
}

type ModuleV13 struct {
	Name      string
	Storage   *StorageV13
	Calls     []FunctionV13
	HasCalls  bool
	Events    []EventV13
	HasEvents bool
	Constants []ConstantV13
	Errors    []ErrorV13
	Index     uint8
}

type StorageV13 struct {
	Prefix  string
	Entries []StorageEntryV13
}

// StorageEntryV13 keeps the entry type tag and every type name it references.
type StorageEntryV13 struct {
	Name     string
	Modifier uint8
	Kind     uint8
	Hashers  []uint8
	Keys     []string
	Value    string
	Default  []byte
	Docs     []string
}

type FunctionV13 struct {
	Name string
	Args []Arg
	Docs []string
}

type EventV13 struct {
	Name string
	Args []string
	Docs []string
}

type ConstantV13 struct {
	Name  string
	Type  string
	Value []byte
	Docs  []string
}

type ErrorV13 struct {
	Name string
	Docs []string
}

type ExtrinsicV13 struct {
	Version          uint8
	SignedExtensions []string
}

const (
	storagePlainV13 uint8 = iota
	storageMapV13
	storageDoubleMapV13
	storageNMapV13
)

func (m *V13) Version() uint8 {
	return 13
}

func (m *V13) ExtrinsicVersion() uint8 {
	return m.Extrinsic.Version
}

func (m *V13) SignedExtensions() []SignedExtension {
	out := make([]SignedExtension, 0, len(m.Extrinsic.SignedExtensions))
	for _, id := range m.Extrinsic.SignedExtensions {
		out = append(out, SignedExtension{Identifier: id})
	}

	return out
}

// AddressType is the bundled type definition name of the extrinsic sender.
func (m *V13) AddressType() string {
	return "Address"
}

// SignatureType is the bundled type definition name of the extrinsic signature.
func (m *V13) SignatureType() string {
	return "ExtrinsicSignature"
}

func (m *V13) Module(name string) (*ModuleV13, error) {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

func (m *V13) Call(module, call string) (*CallInfo, error) {
	mod, err := m.Module(module)
	if err != nil {
		return nil, err
	}

	for i, fn := range mod.Calls {
		if fn.Name == call {
			return &CallInfo{
				Module:      mod.Name,
				Name:        fn.Name,
				ModuleIndex: mod.Index,
				CallIndex:   uint8(i),
				Args:        fn.Args,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s.%s", ErrCallNotFound, module, call)
}

func (m *V13) Constant(module, name string) (*ConstantInfo, error) {
	mod, err := m.Module(module)
	if err != nil {
		return nil, err
	}

	for _, c := range mod.Constants {
		if c.Name == name {
			return &ConstantInfo{Module: mod.Name, Name: c.Name, Type: c.Type, Value: c.Value}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s.%s", ErrConstantNotFound, module, name)
}

// TypeNames lists every type name referenced by calls, events, constants and storage.
func (m *V13) TypeNames() []string {
	var out []string

	for _, mod := range m.Modules {
		for _, fn := range mod.Calls {
			for _, arg := range fn.Args {
				out = append(out, arg.Type)
			}
		}

		for _, ev := range mod.Events {
			out = append(out, ev.Args...)
		}

		for _, c := range mod.Constants {
			out = append(out, c.Type)
		}

		if mod.Storage != nil {
			for _, entry := range mod.Storage.Entries {
				out = append(out, entry.Keys...)
				out = append(out, entry.Value)
			}
		}
	}

	return out
}

func decodeV13(d *scale.Decoder) (*V13, error) {
	modules, err := decodeVec(d, decodeModuleV13)
	if err != nil {
		return nil, fmt.Errorf("modules: %w", err)
	}

	version, err := d.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("extrinsic version: %w", err)
	}

	extensions, err := decodeStrings(d)
	if err != nil {
		return nil, fmt.Errorf("signed extensions: %w", err)
	}

	return &V13{
		Modules:   modules,
		Extrinsic: ExtrinsicV13{Version: version, SignedExtensions: extensions},
	}, nil
}

func decodeModuleV13(d *scale.Decoder) (ModuleV13, error) {
	var (
		mod ModuleV13
		err error
	)

	if mod.Name, err = d.DecodeString(); err != nil {
		return mod, err
	}

	hasStorage, err := decodeOption(d)
	if err != nil {
		return mod, err
	}

	if hasStorage {
		storage := &StorageV13{}
		if storage.Prefix, err = d.DecodeString(); err != nil {
			return mod, err
		}

		if storage.Entries, err = decodeVec(d, decodeStorageEntryV13); err != nil {
			return mod, fmt.Errorf("module %s storage: %w", mod.Name, err)
		}

		mod.Storage = storage
	}

	if mod.HasCalls, err = decodeOption(d); err != nil {
		return mod, err
	}

	if mod.HasCalls {
		if mod.Calls, err = decodeVec(d, decodeFunctionV13); err != nil {
			return mod, fmt.Errorf("module %s calls: %w", mod.Name, err)
		}
	}

	if mod.HasEvents, err = decodeOption(d); err != nil {
		return mod, err
	}

	if mod.HasEvents {
		if mod.Events, err = decodeVec(d, decodeEventV13); err != nil {
			return mod, fmt.Errorf("module %s events: %w", mod.Name, err)
		}
	}

	if mod.Constants, err = decodeVec(d, decodeConstantV13); err != nil {
		return mod, fmt.Errorf("module %s constants: %w", mod.Name, err)
	}

	if mod.Errors, err = decodeVec(d, decodeErrorV13); err != nil {
		return mod, fmt.Errorf("module %s errors: %w", mod.Name, err)
	}

	if mod.Index, err = d.DecodeUint8(); err != nil {
		return mod, err
	}

	return mod, nil
}

func decodeStorageEntryV13(d *scale.Decoder) (StorageEntryV13, error) {
	var (
		entry StorageEntryV13
		err   error
	)

	if entry.Name, err = d.DecodeString(); err != nil {
		return entry, err
	}

	if entry.Modifier, err = d.DecodeUint8(); err != nil {
		return entry, err
	}

	if entry.Kind, err = d.DecodeUint8(); err != nil {
		return entry, err
	}

	switch entry.Kind {
	case storagePlainV13:
		entry.Value, err = d.DecodeString()
	case storageMapV13:
		err = decodeMapV13(d, &entry)
	case storageDoubleMapV13:
		err = decodeDoubleMapV13(d, &entry)
	case storageNMapV13:
		if entry.Keys, err = decodeStrings(d); err != nil {
			return entry, err
		}

		if entry.Hashers, err = decodeVec(d, (*scale.Decoder).DecodeUint8); err != nil {
			return entry, err
		}

		entry.Value, err = d.DecodeString()
	default:
		return entry, fmt.Errorf("storage entry %s kind %d: %w", entry.Name, entry.Kind, scale.ErrUnknownVariant)
	}

	if err != nil {
		return entry, err
	}

	if entry.Default, err = d.DecodeBytes(); err != nil {
		return entry, err
	}

	entry.Docs, err = decodeStrings(d)

	return entry, err
}

func decodeMapV13(d *scale.Decoder, entry *StorageEntryV13) error {
	hasher, err := d.DecodeUint8()
	if err != nil {
		return err
	}

	key, err := d.DecodeString()
	if err != nil {
		return err
	}

	if entry.Value, err = d.DecodeString(); err != nil {
		return err
	}

	// trailing "unused" flag
	if _, err = d.DecodeBool(); err != nil {
		return err
	}

	entry.Hashers = []uint8{hasher}
	entry.Keys = []string{key}

	return nil
}

func decodeDoubleMapV13(d *scale.Decoder, entry *StorageEntryV13) error {
	hasher, err := d.DecodeUint8()
	if err != nil {
		return err
	}

	key1, err := d.DecodeString()
	if err != nil {
		return err
	}

	key2, err := d.DecodeString()
	if err != nil {
		return err
	}

	if entry.Value, err = d.DecodeString(); err != nil {
		return err
	}

	hasher2, err := d.DecodeUint8()
	if err != nil {
		return err
	}

	entry.Hashers = []uint8{hasher, hasher2}
	entry.Keys = []string{key1, key2}

	return nil
}

func decodeFunctionV13(d *scale.Decoder) (FunctionV13, error) {
	var (
		fn  FunctionV13
		err error
	)

	if fn.Name, err = d.DecodeString(); err != nil {
		return fn, err
	}

	fn.Args, err = decodeVec(d, func(d *scale.Decoder) (Arg, error) {
		name, err := d.DecodeString()
		if err != nil {
			return Arg{}, err
		}

		typ, err := d.DecodeString()

		return Arg{Name: name, Type: typ}, err
	})
	if err != nil {
		return fn, err
	}

	fn.Docs, err = decodeStrings(d)

	return fn, err
}

func decodeEventV13(d *scale.Decoder) (EventV13, error) {
	var (
		ev  EventV13
		err error
	)

	if ev.Name, err = d.DecodeString(); err != nil {
		return ev, err
	}

	if ev.Args, err = decodeStrings(d); err != nil {
		return ev, err
	}

	ev.Docs, err = decodeStrings(d)

	return ev, err
}

func decodeConstantV13(d *scale.Decoder) (ConstantV13, error) {
	var (
		c   ConstantV13
		err error
	)

	if c.Name, err = d.DecodeString(); err != nil {
		return c, err
	}

	if c.Type, err = d.DecodeString(); err != nil {
		return c, err
	}

	if c.Value, err = d.DecodeBytes(); err != nil {
		return c, err
	}

	c.Docs, err = decodeStrings(d)

	return c, err
}

func decodeErrorV13(d *scale.Decoder) (ErrorV13, error) {
	var (
		e   ErrorV13
		err error
	)

	if e.Name, err = d.DecodeString(); err != nil {
		return e, err
	}

	e.Docs, err = decodeStrings(d)

	return e, err
}

func (m *V13) encode(e *scale.Encoder) error {
	if err := encodeVec(e, m.Modules, encodeModuleV13); err != nil {
		return err
	}

	e.EncodeUint8(m.Extrinsic.Version)

	return encodeStrings(e, m.Extrinsic.SignedExtensions)
}

func encodeModuleV13(e *scale.Encoder, mod ModuleV13) error {
	if err := e.EncodeString(mod.Name); err != nil {
		return err
	}

	e.EncodeBool(mod.Storage != nil)

	if mod.Storage != nil {
		if err := e.EncodeString(mod.Storage.Prefix); err != nil {
			return err
		}

		if err := encodeVec(e, mod.Storage.Entries, encodeStorageEntryV13); err != nil {
			return err
		}
	}

	hasCalls := mod.HasCalls || len(mod.Calls) > 0
	e.EncodeBool(hasCalls)

	if hasCalls {
		err := encodeVec(e, mod.Calls, func(e *scale.Encoder, fn FunctionV13) error {
			if err := e.EncodeString(fn.Name); err != nil {
				return err
			}

			err := encodeVec(e, fn.Args, func(e *scale.Encoder, arg Arg) error {
				if err := e.EncodeString(arg.Name); err != nil {
					return err
				}

				return e.EncodeString(arg.Type)
			})
			if err != nil {
				return err
			}

			return encodeStrings(e, fn.Docs)
		})
		if err != nil {
			return err
		}
	}

	hasEvents := mod.HasEvents || len(mod.Events) > 0
	e.EncodeBool(hasEvents)

	if hasEvents {
		err := encodeVec(e, mod.Events, func(e *scale.Encoder, ev EventV13) error {
			if err := e.EncodeString(ev.Name); err != nil {
				return err
			}

			if err := encodeStrings(e, ev.Args); err != nil {
				return err
			}

			return encodeStrings(e, ev.Docs)
		})
		if err != nil {
			return err
		}
	}

	err := encodeVec(e, mod.Constants, func(e *scale.Encoder, c ConstantV13) error {
		if err := e.EncodeString(c.Name); err != nil {
			return err
		}

		if err := e.EncodeString(c.Type); err != nil {
			return err
		}

		e.EncodeBytes(c.Value)

		return encodeStrings(e, c.Docs)
	})
	if err != nil {
		return err
	}

	err = encodeVec(e, mod.Errors, func(e *scale.Encoder, er ErrorV13) error {
		if err := e.EncodeString(er.Name); err != nil {
			return err
		}

		return encodeStrings(e, er.Docs)
	})
	if err != nil {
		return err
	}

	e.EncodeUint8(mod.Index)

	return nil
}

func encodeStorageEntryV13(e *scale.Encoder, entry StorageEntryV13) error {
	if err := e.EncodeString(entry.Name); err != nil {
		return err
	}

	e.EncodeUint8(entry.Modifier)
	e.EncodeUint8(entry.Kind)

	var err error

	switch entry.Kind {
	case storagePlainV13:
		err = e.EncodeString(entry.Value)
	case storageMapV13:
		err = encodeMapV13(e, entry)
	case storageDoubleMapV13:
		err = encodeDoubleMapV13(e, entry)
	case storageNMapV13:
		if err = encodeStrings(e, entry.Keys); err != nil {
			return err
		}

		e.EncodeBytes(entry.Hashers)
		err = e.EncodeString(entry.Value)
	default:
		return fmt.Errorf("storage entry %s kind %d: %w", entry.Name, entry.Kind, scale.ErrUnknownVariant)
	}

	if err != nil {
		return err
	}

	e.EncodeBytes(entry.Default)

	return encodeStrings(e, entry.Docs)
}

func encodeMapV13(e *scale.Encoder, entry StorageEntryV13) error {
	if len(entry.Keys) != 1 || len(entry.Hashers) != 1 {
		return fmt.Errorf("storage map %s needs one key and one hasher", entry.Name)
	}

	e.EncodeUint8(entry.Hashers[0])

	if err := e.EncodeString(entry.Keys[0]); err != nil {
		return err
	}

	if err := e.EncodeString(entry.Value); err != nil {
		return err
	}

	e.EncodeBool(false)

	return nil
}

func encodeDoubleMapV13(e *scale.Encoder, entry StorageEntryV13) error {
	if len(entry.Keys) != 2 || len(entry.Hashers) != 2 {
		return fmt.Errorf("storage double map %s needs two keys and two hashers", entry.Name)
	}

	e.EncodeUint8(entry.Hashers[0])

	for _, key := range entry.Keys {
		if err := e.EncodeString(key); err != nil {
			return err
		}
	}

	if err := e.EncodeString(entry.Value); err != nil {
		return err
	}

	e.EncodeUint8(entry.Hashers[1])

	return nil
}
