package workflow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Checkpoint value markers. Non-JSON-native nodes are rewritten as a
// single-key (plus "value") object tagged with one of these markers so a
// compatible process can reconstruct them.
const (
	// typeMarker tags a registered struct value encoded field-by-field:
	// {"$type": name, "value": {...}}.
	typeMarker = "$type"

	// modelMarker tags a struct that owns its JSON form (implements
	// json.Marshaler/Unmarshaler): {"$model": name, "value": <its JSON>}.
	modelMarker = "$model"

	// timeMarker tags a time.Time encoded as RFC 3339 with nanoseconds.
	timeMarker = "$time"

	// binaryMarker tags a byte slice encoded as base64.
	binaryMarker = "$binary"

	// mapMarker tags a map with non-string keys, encoded as ordered pairs.
	mapMarker = "$map"
)

// TypeRegistry resolves the qualified names stored in checkpoint markers back
// to Go types. Go has no import-by-name, so reconstruction requires the type
// to have been registered in the running process; the runtime registers every
// handler input type and request/response type it sees, and applications may
// register additional payload types explicitly.
//
// Resolution is the security boundary of checkpoint decoding: a name is only
// instantiated when the registered type's shape matches the stored marker.
// Anything else decodes to a raw map.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]reflect.Type)}
}

// defaultRegistry backs the package-level Register functions. It holds type
// metadata only, the runtime equivalent of the process's import table; all
// run state lives in the runner context.
var defaultRegistry = NewTypeRegistry()

// DefaultTypeRegistry returns the process-wide registry used by workflows
// unless a custom one is configured.
func DefaultTypeRegistry() *TypeRegistry { return defaultRegistry }

// RegisterType adds T to the default registry under its qualified name.
func RegisterType[T any]() {
	defaultRegistry.Add(TypeOf[T]())
}

// Add registers t (or its pointee) under its qualified name. Non-struct and
// unnamed types are ignored; they never carry a type marker.
func (r *TypeRegistry) Add(t reflect.Type) {
	if t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[qualifiedTypeName(t)] = t
	// Also index reflect's short "pkg.Type" form, which appears in stored
	// names for types that were never marker-encoded.
	r.types[t.String()] = t
}

// Resolve returns the registered type for name, or nil.
func (r *TypeRegistry) Resolve(name string) reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// qualifiedTypeName is the stable identifier stored in markers and in
// pending-request records: "import/path.TypeName".
func qualifiedTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// EncodeCheckpointValue rewrites v into a JSON-native tree, tagging
// non-native nodes with markers. Nested markers are allowed. The encoding
// side is permissive: unregistered structs still get a type marker so a
// better-equipped process can reconstruct them.
func EncodeCheckpointValue(v any) any {
	return encodeValue(reflect.ValueOf(v))
}

func encodeValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	if t, ok := v.Interface().(time.Time); ok {
		return map[string]any{timeMarker: t.Format(time.RFC3339Nano)}
	}

	if v.Kind() == reflect.Struct && v.Type().Name() != "" && implementsJSONCodec(v.Type()) {
		if raw, err := json.Marshal(v.Interface()); err == nil {
			var body any
			if err := json.Unmarshal(raw, &body); err == nil {
				return map[string]any{modelMarker: qualifiedTypeName(v.Type()), "value": body}
			}
		}
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v.Interface()
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return map[string]any{binaryMarker: base64.StdEncoding.EncodeToString(v.Bytes())}
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = encodeValue(iter.Value())
			}
			return out
		}
		pairs := make([]any, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			pairs = append(pairs, []any{encodeValue(iter.Key()), encodeValue(iter.Value())})
		}
		return map[string]any{mapMarker: pairs}
	case reflect.Struct:
		fields := make(map[string]any)
		encodeStructFields(v, fields)
		if v.Type().Name() == "" {
			return fields
		}
		return map[string]any{typeMarker: qualifiedTypeName(v.Type()), "value": fields}
	default:
		// Channels, funcs, and friends have no durable form.
		return nil
	}
}

func encodeStructFields(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			encodeStructFields(v.Field(i), out)
			continue
		}
		name := jsonFieldName(f)
		if name == "-" {
			continue
		}
		out[name] = encodeValue(v.Field(i))
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			if i == 0 {
				return f.Name
			}
			return tag[:i]
		}
	}
	return tag
}

// DecodeCheckpointValue reverses EncodeCheckpointValue against the default
// registry. Type markers whose names resolve to a registered struct of the
// advertised shape are reconstructed; unresolvable or shape-mismatched
// markers decode to the raw field map instead. Never instantiating a type
// whose shape disagrees with the marker is the guard against forged markers.
func DecodeCheckpointValue(v any) any {
	return decodeValue(v, defaultRegistry)
}

// DecodeCheckpointValueWith decodes against a specific registry.
func DecodeCheckpointValueWith(v any, reg *TypeRegistry) any {
	return decodeValue(v, reg)
}

func decodeValue(v any, reg *TypeRegistry) any {
	switch node := v.(type) {
	case []any:
		out := make([]any, len(node))
		for i, e := range node {
			out[i] = decodeValue(e, reg)
		}
		return out
	case map[string]any:
		if ts, ok := node[timeMarker].(string); ok && len(node) == 1 {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				return t
			}
			return node
		}
		if b64, ok := node[binaryMarker].(string); ok && len(node) == 1 {
			if raw, err := base64.StdEncoding.DecodeString(b64); err == nil {
				return raw
			}
			return node
		}
		if pairs, ok := node[mapMarker].([]any); ok && len(node) == 1 {
			out := make(map[any]any, len(pairs))
			for _, p := range pairs {
				kv, ok := p.([]any)
				if !ok || len(kv) != 2 {
					return node
				}
				out[decodeValue(kv[0], reg)] = decodeValue(kv[1], reg)
			}
			return out
		}
		if name, ok := node[modelMarker].(string); ok {
			if inst, ok := instantiateModel(name, node["value"], reg); ok {
				return inst
			}
			return decodeValue(node["value"], reg)
		}
		if name, ok := node[typeMarker].(string); ok {
			fields, _ := node["value"].(map[string]any)
			decoded := make(map[string]any, len(fields))
			for k, fv := range fields {
				decoded[k] = decodeValue(fv, reg)
			}
			if inst, ok := instantiate(name, decoded, reg); ok {
				return inst
			}
			return decoded
		}
		out := make(map[string]any, len(node))
		for k, e := range node {
			out[k] = decodeValue(e, reg)
		}
		return out
	default:
		return v
	}
}

var (
	jsonMarshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

// implementsJSONCodec reports whether t owns both directions of its JSON
// form. Only such types get a model marker; one-sided implementations fall
// back to field encoding.
func implementsJSONCodec(t reflect.Type) bool {
	marshals := t.Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(jsonMarshalerType)
	unmarshals := reflect.PointerTo(t).Implements(jsonUnmarshalerType)
	return marshals && unmarshals
}

// instantiateModel reconstructs a model-marked value through the type's own
// json.Unmarshaler. The advertised strategy is validated before
// instantiation: a resolved type that does not implement the codec refuses,
// exactly like a shape-mismatched dataclass marker.
func instantiateModel(name string, body any, reg *TypeRegistry) (any, bool) {
	t := reg.Resolve(name)
	if t == nil || t.Kind() != reflect.Struct || !implementsJSONCodec(t) {
		return nil, false
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	target := reflect.New(t)
	if err := json.Unmarshal(raw, target.Interface()); err != nil {
		return nil, false
	}
	return target.Elem().Interface(), true
}

// instantiate reconstructs a registered struct from decoded fields. It
// refuses when the name is unknown or the registered type's field names do
// not cover the stored keys; callers fall back to the raw map.
func instantiate(name string, fields map[string]any, reg *TypeRegistry) (any, bool) {
	t := reg.Resolve(name)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, false
	}
	if !structShapeMatches(t, fields) {
		return nil, false
	}

	// Round-trip through JSON so nested registered types, numeric widths,
	// and field tags are honored by the standard decoder.
	raw, err := json.Marshal(prepareForUnmarshal(fields))
	if err != nil {
		return nil, false
	}
	target := reflect.New(t)
	if err := json.Unmarshal(raw, target.Interface()); err != nil {
		return nil, false
	}
	restoreDecodedFields(target.Elem(), fields)
	return target.Elem().Interface(), true
}

// structShapeMatches verifies every stored key corresponds to a field of t.
func structShapeMatches(t reflect.Type, fields map[string]any) bool {
	known := make(map[string]bool)
	collectFieldNames(t, known)
	for k := range fields {
		if !known[k] {
			return false
		}
	}
	return true
}

func collectFieldNames(t reflect.Type, out map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectFieldNames(f.Type, out)
			continue
		}
		if name := jsonFieldName(f); name != "-" {
			out[name] = true
		}
	}
}

// prepareForUnmarshal converts decoded values back into JSON-marshalable
// form. Reconstructed nested structs marshal through their own JSON
// representation; times and byte slices marshal natively.
func prepareForUnmarshal(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, e := range node {
			out[k] = prepareForUnmarshal(e)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, e := range node {
			out[i] = prepareForUnmarshal(e)
		}
		return out
	default:
		return v
	}
}

// restoreDecodedFields overwrites fields whose decoded form carries more
// fidelity than the JSON round trip preserved (reconstructed nested structs
// assigned into any-typed fields).
func restoreDecodedFields(target reflect.Value, fields map[string]any) {
	t := target.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := jsonFieldName(f)
		dv, ok := fields[name]
		if !ok || dv == nil {
			continue
		}
		fv := target.Field(i)
		if fv.Kind() != reflect.Interface || !fv.CanSet() {
			continue
		}
		rv := reflect.ValueOf(dv)
		if rv.Type().AssignableTo(fv.Type()) {
			fv.Set(rv)
		}
	}
}

// The runtime's own message and request types always resolve, so checkpoints
// written by any process hosting this package rehydrate them.
func init() {
	for _, t := range []reflect.Type{
		TypeOf[ChatMessage](),
		TypeOf[TextContent](),
		TypeOf[CitationAnnotation](),
		TypeOf[FunctionCallContent](),
		TypeOf[FunctionResultContent](),
		TypeOf[FunctionApprovalRequestContent](),
		TypeOf[FunctionApprovalResponseContent](),
		TypeOf[HostedFileContent](),
		TypeOf[DataContent](),
		TypeOf[AgentExecutorRequest](),
		TypeOf[AgentExecutorResponse](),
		TypeOf[AgentRunResponse](),
		TypeOf[RequestInfoMessage](),
		TypeOf[RequestResponse](),
		TypeOf[AgentInputRequest](),
		TypeOf[AgentInputResponse](),
	} {
		defaultRegistry.Add(t)
	}
}

// decodeTypedPayload decodes an encoded payload that MUST reconstruct to the
// named type. Used for pending-request payloads at rehydration, where a raw
// map would corrupt semantics.
func decodeTypedPayload(encoded any, typeName string, reg *TypeRegistry) (any, error) {
	t := reg.Resolve(typeName)
	if t == nil {
		return nil, fmt.Errorf("%w: type %q is not registered in this process", ErrCheckpointDecode, typeName)
	}
	decoded := decodeValue(encoded, reg)
	if IsInstanceOf(decoded, t) {
		return decoded, nil
	}
	// The encoded form may be a bare field map (written by a process that
	// did not tag it); try shape-checked instantiation.
	if fields, ok := decoded.(map[string]any); ok {
		if inst, ok := instantiate(typeName, fields, reg); ok {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: stored payload does not match type %q", ErrCheckpointDecode, typeName)
}
