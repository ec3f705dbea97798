package api

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"time"
)

// Params are query parameters. A nil value or nil pointer means the parameter
// is absent and is never sent, not even as an empty string.
type Params map[string]any

// Encode renders the present parameters, sorted by key.
func (p Params) Encode() string {
	values := url.Values{}
	for key, v := range p {
		s, ok := formatParam(v)
		if !ok {
			continue
		}
		values.Set(key, s)
	}
	return values.Encode()
}

func formatParam(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		v = rv.Elem().Interface()
	}

	switch value := v.(type) {
	case string:
		return value, true
	case bool:
		return strconv.FormatBool(value), true
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return value.String(), true
	default:
		return fmt.Sprint(value), true
	}
}
