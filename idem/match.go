package idem

import (
	"bytes"
	"encoding/json"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/ceyewan/idemguard/xerrors"
)

// Canonicalize 将请求参数序列化为规范 JSON，键顺序不同的等价参数得到相同的字节
//
// 规则：
//   - 对象键按字节序排序，键与字符串值做 NFC 规范化
//   - 不做 HTML 转义
//   - 数字保留原始字面量
//   - nil 视为空对象 {}
//
// v 为 []byte 或 json.RawMessage 时按 JSON 文本解析，其余值先经 encoding/json 序列化。
func Canonicalize(v any) ([]byte, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
	}
	if dec.More() {
		return nil, xerrors.Wrap(ErrInvalidParams, "trailing data after JSON value")
	}
	if decoded == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		normalized := make(map[string]any, len(val))
		for k, elem := range val {
			normalized[norm.NFC.String(k)] = elem
		}
		keys := make([]string, 0, len(normalized))
		for k := range normalized {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, normalized[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return xerrors.Wrapf(ErrInvalidParams, "unsupported value of type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return xerrors.Wrap(ErrInvalidParams, err.Error())
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// Matches 判断请求是否与记录为同一操作：method、path 与规范化参数均相同
// 存储的参数在比较前重新规范化，兼容会改写 JSON 的存储（如 Postgres jsonb）
func (r *Record) Matches(method, path string, canonicalParams []byte) bool {
	if r.RequestMethod != method || r.RequestPath != path {
		return false
	}
	stored, err := Canonicalize([]byte(r.RequestParams))
	if err != nil {
		return false
	}
	return bytes.Equal(stored, canonicalParams)
}
