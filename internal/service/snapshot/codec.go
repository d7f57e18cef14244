package snapshot

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
)

// バックアップファイルの形式:
//
//	[0:4]   IVの長さ L (uint32 リトルエンディアン)
//	[4:4+L] IV (秒単位の現在時刻の文字列のMD5)
//	[4+L:]  payload[i] ^ key[i%len(key)] ^ iv[i%L]
//
// 認証も機密性もない難読化であり、形式は既存のファイルとの互換のために維持しています
// TODO: 形式を変更できるようになったらAES-GCMなどの認証付き暗号に置き換える

const ivLengthSize = 4

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DeriveKey はパスフレーズから鍵 (SHA-256) を作ります
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Codec はスナップショットとバックアップファイルのバイト列を相互に変換します
type Codec struct {
	clock func() time.Time
}

// CodecOption は Codec の設定です
type CodecOption func(*Codec)

// WithCodecClock はIVの生成に使う時計を差し替えます
func WithCodecClock(clock func() time.Time) CodecOption {
	return func(c *Codec) {
		c.clock = clock
	}
}

// NewCodec は新しいCodecを作成します
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seal は payload を暗号化します
func (c *Codec) Seal(payload, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, model.ErrEmptyKey
	}

	sum := md5.Sum([]byte(c.clock().Format(time.ANSIC)))
	iv := sum[:]

	blob := make([]byte, ivLengthSize+len(iv)+len(payload))
	binary.LittleEndian.PutUint32(blob[:ivLengthSize], uint32(len(iv)))
	copy(blob[ivLengthSize:], iv)
	xorStream(blob[ivLengthSize+len(iv):], payload, key, iv)

	return blob, nil
}

// Open は Seal で暗号化したバイト列を復号します
func Open(blob, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, model.ErrEmptyKey
	}
	if len(blob) < 2*ivLengthSize {
		return nil, model.ErrTruncated
	}

	ivLen := int32(binary.LittleEndian.Uint32(blob[:ivLengthSize]))
	if ivLen <= 0 || int64(ivLen) > int64(len(blob)-ivLengthSize) {
		return nil, model.ErrInvalidIVLength
	}

	iv := blob[ivLengthSize : ivLengthSize+int(ivLen)]
	data := blob[ivLengthSize+int(ivLen):]

	payload := make([]byte, len(data))
	xorStream(payload, data, key, iv)
	return payload, nil
}

func xorStream(dst, src, key, iv []byte) {
	for i := range src {
		dst[i] = src[i] ^ key[i%len(key)] ^ iv[i%len(iv)]
	}
}

// Encode はスナップショットをJSONにして暗号化します
func (c *Codec) Encode(s *model.Snapshot, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, model.ErrEmptyKey
	}

	payload, err := Marshal(s)
	if err != nil {
		return nil, err
	}
	return c.Seal(payload, key)
}

// Decode は Encode で作ったバイト列をスナップショットに戻します
func Decode(blob, key []byte) (*model.Snapshot, error) {
	payload, err := Open(blob, key)
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}

// Marshal はスナップショットをJSONオブジェクトにします
// テーブルはスナップショットの順序で、各行のカラムは名前順で出力します
func Marshal(s *model.Snapshot) ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, table := range s.Tables {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(table.Table)
		stream.WriteArrayStart()
		for j, row := range table.Rows {
			if j > 0 {
				stream.WriteMore()
			}
			if err := writeRow(stream, table.Table, row); err != nil {
				return nil, err
			}
		}
		stream.WriteArrayEnd()
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", stream.Error)
	}

	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

func writeRow(stream *jsoniter.Stream, table string, row model.Row) error {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	stream.WriteObjectStart()
	for i, column := range columns {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(column)
		switch v := row[column].(type) {
		case nil:
			stream.WriteNil()
		case bool:
			stream.WriteBool(v)
		case int64:
			stream.WriteInt64(v)
		case int:
			stream.WriteInt64(int64(v))
		case string:
			stream.WriteString(v)
		default:
			return fmt.Errorf("%w: %s.%s has unsupported value %T", model.ErrUnsupportedFormat, table, column, v)
		}
	}
	stream.WriteObjectEnd()
	return nil
}

// Unmarshal はJSONをスナップショットにします
// テーブルも行もない場合、Tables と Rows は空のスライスではなく nil になります
// JSONとして解析できない場合は ErrMalformedPayload を、
// 最上位がオブジェクトでない場合や値の形が想定外の場合は ErrUnsupportedFormat を返します
func Unmarshal(payload []byte) (s *model.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, r)
		}
	}()

	// 末尾の余分なデータも含めて構文を検査する
	var probe interface{}
	if err := jsonAPI.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if _, ok := probe.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: top level is %T, not an object", model.ErrUnsupportedFormat, probe)
	}

	iter := jsonAPI.BorrowIterator(payload)
	defer jsonAPI.ReturnIterator(iter)

	s = &model.Snapshot{}
	seen := map[string]bool{}
	var shapeErr error

	iter.ReadObjectCB(func(iter *jsoniter.Iterator, table string) bool {
		if seen[table] {
			shapeErr = fmt.Errorf("%w: duplicate table %q", model.ErrUnsupportedFormat, table)
			return false
		}
		seen[table] = true

		rows, err := readRows(iter, table)
		if err != nil {
			shapeErr = err
			return false
		}
		s.Tables = append(s.Tables, model.TableRows{Table: table, Rows: rows})
		return true
	})

	if shapeErr != nil {
		return nil, shapeErr
	}
	if iter.Error != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, iter.Error)
	}
	return s, nil
}

func readRows(iter *jsoniter.Iterator, table string) ([]model.Row, error) {
	if iter.WhatIsNext() != jsoniter.ArrayValue {
		return nil, fmt.Errorf("%w: table %q is not an array", model.ErrUnsupportedFormat, table)
	}

	var (
		rows   []model.Row
		rowErr error
	)
	iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
		if iter.WhatIsNext() != jsoniter.ObjectValue {
			rowErr = fmt.Errorf("%w: row %d of %q is not an object", model.ErrUnsupportedFormat, len(rows), table)
			return false
		}

		row := model.Row{}
		iter.ReadMapCB(func(iter *jsoniter.Iterator, column string) bool {
			v, err := readScalar(iter)
			if err != nil {
				rowErr = fmt.Errorf("%w: %s.%s", err, table, column)
				return false
			}
			row[column] = v
			return true
		})
		if rowErr != nil {
			return false
		}

		rows = append(rows, row)
		return true
	})

	return rows, rowErr
}

func readScalar(iter *jsoniter.Iterator) (interface{}, error) {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil, nil
	case jsoniter.BoolValue:
		return iter.ReadBool(), nil
	case jsoniter.StringValue:
		return iter.ReadString(), nil
	case jsoniter.NumberValue:
		number := iter.ReadNumber()
		n, err := strconv.ParseInt(string(number), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-integer number %s", model.ErrUnsupportedFormat, number)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: nested value", model.ErrUnsupportedFormat)
}
