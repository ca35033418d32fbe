package collection

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// encodeRecord 以 msgpack 编码记录并用 snappy 压缩
func encodeRecord(v any) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("编码记录失败: %w", err)
	}
	return snappy.Encode(nil, buf), nil
}

func decodeRecord(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("解压记录失败: %w", err)
	}
	if err := codec.NewDecoderBytes(raw, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("解码记录失败: %w", err)
	}
	return nil
}
