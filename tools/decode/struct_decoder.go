package decode

import (
	"github.com/mitchellh/mapstructure"
)

// Decode 把泛化的 map payload 解成具体的业务结构（弱类型转换打开，
// 客户端把数字发成字符串也能吃下）。
func Decode[T any](in any) (*T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(in); err != nil {
		return nil, err
	}
	return &out, nil
}
