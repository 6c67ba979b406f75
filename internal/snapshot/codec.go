package snapshot

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMissingData is returned when a snapshot has no data payload.
var ErrMissingData = errors.New("snapshot payload missing data")

// field is one decoded protobuf field. raw holds the tag and value bytes so
// fields the model does not know can be re-emitted verbatim.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	raw    []byte
	bytes  []byte
	varint uint64
}

func (f field) isBytes(num protowire.Number) bool {
	return f.num == num && f.typ == protowire.BytesType
}

func (f field) isVarint(num protowire.Number) bool {
	return f.num == num && f.typ == protowire.VarintType
}

// walk visits every field in b. Fields for which fn returns false are
// collected and returned as unknown.
func walk(b []byte, fn func(f field) (bool, error)) ([]byte, error) {
	var unknown []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		f := field{num: num, typ: typ, raw: b[:n+m]}
		switch typ {
		case protowire.BytesType:
			f.bytes, _ = protowire.ConsumeBytes(b[n:])
		case protowire.VarintType:
			f.varint, _ = protowire.ConsumeVarint(b[n:])
		}
		known, err := fn(f)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		if !known {
			unknown = append(unknown, f.raw...)
		}
		b = b[n+m:]
	}
	return unknown, nil
}

// Decode parses protobuf snapshot bytes (a SnapshotWithType message).
func Decode(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var change []byte
	hasChange := false

	unknown, err := walk(b, func(f field) (bool, error) {
		switch {
		case f.isVarint(1):
			s.SBType = SmartBlockType(int32(f.varint))
		case f.isBytes(2):
			change = f.bytes
			hasChange = true
		default:
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	s.unknownOuter = unknown
	if !hasChange {
		return nil, ErrMissingData
	}

	var data []byte
	hasData := false
	s.unknownChange, err = walk(change, func(f field) (bool, error) {
		if f.isBytes(1) {
			data = f.bytes
			hasData = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding change snapshot: %w", err)
	}
	if !hasData {
		return nil, ErrMissingData
	}

	s.unknownData, err = walk(data, func(f field) (bool, error) {
		switch {
		case f.isBytes(1):
			blk, err := decodeBlock(f.bytes)
			if err != nil {
				return false, err
			}
			s.Blocks = append(s.Blocks, blk)
		case f.isBytes(2):
			st := &structpb.Struct{}
			if err := proto.Unmarshal(f.bytes, st); err != nil {
				return false, fmt.Errorf("decoding details: %w", err)
			}
			s.Details = st
		case f.isBytes(5):
			s.ObjectTypes = append(s.ObjectTypes, string(f.bytes))
		default:
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot data: %w", err)
	}
	return s, nil
}

func decodeBlock(b []byte) (*Block, error) {
	blk := &Block{}
	var err error
	blk.unknown, err = walk(b, func(f field) (bool, error) {
		var derr error
		switch {
		case f.isBytes(1):
			blk.ID = string(f.bytes)
		case f.isBytes(2):
			st := &structpb.Struct{}
			derr = proto.Unmarshal(f.bytes, st)
			blk.Fields = st
		case f.isBytes(4):
			blk.ChildrenIDs = append(blk.ChildrenIDs, string(f.bytes))
		case f.isBytes(14):
			blk.Text, derr = decodeText(f.bytes)
		case f.isBytes(15):
			blk.File, derr = decodeFile(f.bytes)
		case f.isBytes(16):
			blk.Layout = &Layout{}
			blk.Layout.unknown, derr = walk(f.bytes, func(g field) (bool, error) {
				if g.isVarint(1) {
					blk.Layout.Style = LayoutStyle(int32(g.varint))
					return true, nil
				}
				return false, nil
			})
		case f.isBytes(17):
			blk.Div = &Div{}
			blk.Div.unknown, derr = walk(f.bytes, func(g field) (bool, error) {
				if g.isVarint(1) {
					blk.Div.Style = DivStyle(int32(g.varint))
					return true, nil
				}
				return false, nil
			})
		case f.isBytes(18):
			blk.Bookmark, derr = decodeBookmark(f.bytes)
		case f.isBytes(20):
			blk.Link = &Link{}
			blk.Link.unknown, derr = walk(f.bytes, func(g field) (bool, error) {
				if g.isBytes(1) {
					blk.Link.TargetBlockID = string(g.bytes)
					return true, nil
				}
				return false, nil
			})
		case f.isBytes(24):
			blk.Latex = &Latex{}
			blk.Latex.unknown, derr = walk(f.bytes, func(g field) (bool, error) {
				if g.isBytes(1) {
					blk.Latex.Text = string(g.bytes)
					return true, nil
				}
				return false, nil
			})
		case f.isBytes(26):
			blk.Table = &Table{}
			blk.Table.unknown, derr = walk(f.bytes, none)
		case f.isBytes(27):
			blk.TableColumn = &TableColumn{}
			blk.TableColumn.unknown, derr = walk(f.bytes, none)
		case f.isBytes(28):
			blk.TableRow = &TableRow{}
			blk.TableRow.unknown, derr = walk(f.bytes, func(g field) (bool, error) {
				if g.isVarint(1) {
					blk.TableRow.IsHeader = g.varint != 0
					return true, nil
				}
				return false, nil
			})
		default:
			return false, nil
		}
		return true, derr
	})
	if err != nil {
		return nil, fmt.Errorf("decoding block: %w", err)
	}
	return blk, nil
}

func none(field) (bool, error) { return false, nil }

func decodeText(b []byte) (*Text, error) {
	t := &Text{}
	var err error
	t.unknown, err = walk(b, func(f field) (bool, error) {
		switch {
		case f.isBytes(1):
			t.Text = string(f.bytes)
		case f.isVarint(2):
			t.Style = TextStyle(int32(f.varint))
		case f.isVarint(4):
			t.Checked = f.varint != 0
		default:
			return false, nil
		}
		return true, nil
	})
	return t, err
}

func decodeFile(b []byte) (*File, error) {
	fl := &File{}
	var err error
	fl.unknown, err = walk(b, func(f field) (bool, error) {
		switch {
		case f.isBytes(1):
			fl.Hash = string(f.bytes)
		case f.isBytes(2):
			fl.Name = string(f.bytes)
		case f.isVarint(3):
			fl.Type = FileType(int32(f.varint))
		case f.isBytes(4):
			fl.Mime = string(f.bytes)
		case f.isVarint(5):
			fl.Size = int64(f.varint)
		case f.isVarint(7):
			fl.State = FileState(int32(f.varint))
		case f.isBytes(9):
			fl.TargetObjectID = string(f.bytes)
		default:
			return false, nil
		}
		return true, nil
	})
	return fl, err
}

func decodeBookmark(b []byte) (*Bookmark, error) {
	bm := &Bookmark{}
	var err error
	bm.unknown, err = walk(b, func(f field) (bool, error) {
		switch {
		case f.isBytes(1):
			bm.URL = string(f.bytes)
		case f.isBytes(2):
			bm.Title = string(f.bytes)
		case f.isBytes(3):
			bm.Description = string(f.bytes)
		default:
			return false, nil
		}
		return true, nil
	})
	return bm, err
}

var deterministic = proto.MarshalOptions{Deterministic: true}

// Encode serializes s as a SnapshotWithType message. Known fields are written
// in field-number order followed by any unknown fields captured on decode, so
// Encode(Decode(b)) is a canonical form of b.
func Encode(s *Snapshot) ([]byte, error) {
	var data []byte
	for _, blk := range s.Blocks {
		eb, err := encodeBlock(blk)
		if err != nil {
			return nil, err
		}
		data = appendMessage(data, 1, eb)
	}
	if s.Details != nil {
		db, err := deterministic.Marshal(s.Details)
		if err != nil {
			return nil, fmt.Errorf("encoding details: %w", err)
		}
		data = appendMessage(data, 2, db)
	}
	for _, t := range s.ObjectTypes {
		data = appendMessage(data, 5, []byte(t))
	}
	data = append(data, s.unknownData...)

	change := appendMessage(nil, 1, data)
	change = append(change, s.unknownChange...)

	var out []byte
	out = appendVarint(out, 1, uint64(int64(s.SBType)))
	out = appendMessage(out, 2, change)
	out = append(out, s.unknownOuter...)
	return out, nil
}

func encodeBlock(blk *Block) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, blk.ID)
	if blk.Fields != nil {
		fb, err := deterministic.Marshal(blk.Fields)
		if err != nil {
			return nil, fmt.Errorf("encoding block fields: %w", err)
		}
		b = appendMessage(b, 2, fb)
	}
	for _, id := range blk.ChildrenIDs {
		b = appendMessage(b, 4, []byte(id))
	}
	if t := blk.Text; t != nil {
		var c []byte
		c = appendString(c, 1, t.Text)
		c = appendVarint(c, 2, uint64(int64(t.Style)))
		c = appendBool(c, 4, t.Checked)
		b = appendMessage(b, 14, append(c, t.unknown...))
	}
	if f := blk.File; f != nil {
		var c []byte
		c = appendString(c, 1, f.Hash)
		c = appendString(c, 2, f.Name)
		c = appendVarint(c, 3, uint64(int64(f.Type)))
		c = appendString(c, 4, f.Mime)
		c = appendVarint(c, 5, uint64(f.Size))
		c = appendVarint(c, 7, uint64(int64(f.State)))
		c = appendString(c, 9, f.TargetObjectID)
		b = appendMessage(b, 15, append(c, f.unknown...))
	}
	if l := blk.Layout; l != nil {
		c := appendVarint(nil, 1, uint64(int64(l.Style)))
		b = appendMessage(b, 16, append(c, l.unknown...))
	}
	if d := blk.Div; d != nil {
		c := appendVarint(nil, 1, uint64(int64(d.Style)))
		b = appendMessage(b, 17, append(c, d.unknown...))
	}
	if bm := blk.Bookmark; bm != nil {
		var c []byte
		c = appendString(c, 1, bm.URL)
		c = appendString(c, 2, bm.Title)
		c = appendString(c, 3, bm.Description)
		b = appendMessage(b, 18, append(c, bm.unknown...))
	}
	if l := blk.Link; l != nil {
		c := appendString(nil, 1, l.TargetBlockID)
		b = appendMessage(b, 20, append(c, l.unknown...))
	}
	if l := blk.Latex; l != nil {
		c := appendString(nil, 1, l.Text)
		b = appendMessage(b, 24, append(c, l.unknown...))
	}
	if t := blk.Table; t != nil {
		b = appendMessage(b, 26, t.unknown)
	}
	if t := blk.TableColumn; t != nil {
		b = appendMessage(b, 27, t.unknown)
	}
	if t := blk.TableRow; t != nil {
		c := appendBool(nil, 1, t.IsHeader)
		b = appendMessage(b, 28, append(c, t.unknown...))
	}
	return append(b, blk.unknown...), nil
}

func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}
