package scene

import (
	"fmt"
	"sort"
)

type PropsType int

const (
	PROP_TYPE_STRING PropsType = iota
	PROP_TYPE_INT
	PROP_TYPE_FLOAT
	PROP_TYPE_BOOL
	PROP_TYPE_ARRAY
	PROP_TYPE_MAP
)

type PropsValue struct {
	Type  PropsType
	Value interface{}
}

// Properties 节点的自定义属性（glTF extras、FBX Properties70）
type Properties map[string]PropsValue

func NewString(s string) PropsValue {
	return PropsValue{Type: PROP_TYPE_STRING, Value: s}
}

func NewInt(i int64) PropsValue {
	return PropsValue{Type: PROP_TYPE_INT, Value: i}
}

func NewFloat(f float64) PropsValue {
	return PropsValue{Type: PROP_TYPE_FLOAT, Value: f}
}

func NewBool(b bool) PropsValue {
	return PropsValue{Type: PROP_TYPE_BOOL, Value: b}
}

func NewArray(items ...PropsValue) PropsValue {
	return PropsValue{Type: PROP_TYPE_ARRAY, Value: items}
}

// PropsValueOf 将 JSON 解码得到的通用值转换为 PropsValue
func PropsValueOf(v interface{}) (PropsValue, error) {
	switch val := v.(type) {
	case string:
		return NewString(val), nil
	case bool:
		return NewBool(val), nil
	case int:
		return NewInt(int64(val)), nil
	case int32:
		return NewInt(int64(val)), nil
	case int64:
		return NewInt(val), nil
	case float32:
		return NewFloat(float64(val)), nil
	case float64:
		if val == float64(int64(val)) {
			return NewInt(int64(val)), nil
		}
		return NewFloat(val), nil
	case []interface{}:
		arr := make([]PropsValue, 0, len(val))
		for i, item := range val {
			pv, err := PropsValueOf(item)
			if err != nil {
				return PropsValue{}, fmt.Errorf("array item %d: %w", i, err)
			}
			arr = append(arr, pv)
		}
		return NewArray(arr...), nil
	case map[string]interface{}:
		sub, err := PropertiesOf(val)
		if err != nil {
			return PropsValue{}, err
		}
		return PropsValue{Type: PROP_TYPE_MAP, Value: sub}, nil
	}
	return PropsValue{}, fmt.Errorf("unsupported property value %T", v)
}

// PropertiesOf 转换通用 map，无法表示的值返回错误
func PropertiesOf(m map[string]interface{}) (Properties, error) {
	props := make(Properties, len(m))
	for k, v := range m {
		pv, err := PropsValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = pv
	}
	return props, nil
}

// Interface 还原为可 JSON 编码的通用值
func (v PropsValue) Interface() interface{} {
	switch v.Type {
	case PROP_TYPE_ARRAY:
		arr := v.Value.([]PropsValue)
		out := make([]interface{}, len(arr))
		for i := range arr {
			out[i] = arr[i].Interface()
		}
		return out
	case PROP_TYPE_MAP:
		return v.Value.(Properties).ToMap()
	}
	return v.Value
}

func (p Properties) ToMap() map[string]interface{} {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
