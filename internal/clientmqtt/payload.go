package clientmqtt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Encode turns a publish payload into wire bytes. Strings and byte slices pass
// through unchanged, scalars are printed as text and anything structured is JSON.
func Encode(v interface{}) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}

	// named scalars (type Cmd string) are sent like their underlying type
	// unless they marshal themselves
	if _, ok := v.(json.Marshaler); ok {
		return marshal(v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return []byte(rv.String()), nil
	case reflect.Bool:
		return []byte(strconv.FormatBool(rv.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return []byte(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32:
		return []byte(strconv.FormatFloat(rv.Float(), 'f', -1, 32)), nil
	case reflect.Float64:
		return []byte(strconv.FormatFloat(rv.Float(), 'f', -1, 64)), nil
	}
	return marshal(v)
}

func marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload %T: %w", v, err)
	}
	return data, nil
}
