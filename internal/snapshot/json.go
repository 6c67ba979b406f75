package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// The pb-json form mirrors the jsonpb rendering of SnapshotWithType: camelCase
// keys, enums by name, int64 as strings. Fields outside the model are not
// carried in this form.

type jsonSnapshot struct {
	SBType   json.RawMessage `json:"sbType,omitempty"`
	Snapshot jsonChange      `json:"snapshot"`
}

type jsonChange struct {
	Data *jsonData `json:"data,omitempty"`
}

type jsonData struct {
	Blocks      []jsonBlock     `json:"blocks,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	ObjectTypes []string        `json:"objectTypes,omitempty"`
}

type jsonBlock struct {
	ID          string          `json:"id"`
	Fields      json.RawMessage `json:"fields,omitempty"`
	ChildrenIDs []string        `json:"childrenIds,omitempty"`
	Text        *jsonText       `json:"text,omitempty"`
	File        *jsonFile       `json:"file,omitempty"`
	Layout      *jsonStyled     `json:"layout,omitempty"`
	Div         *jsonStyled     `json:"div,omitempty"`
	Bookmark    *jsonBookmark   `json:"bookmark,omitempty"`
	Link        *jsonLink       `json:"link,omitempty"`
	Latex       *jsonLatex      `json:"latex,omitempty"`
	Table       *struct{}       `json:"table,omitempty"`
	TableColumn *struct{}       `json:"tableColumn,omitempty"`
	TableRow    *jsonTableRow   `json:"tableRow,omitempty"`
}

type jsonText struct {
	Text    string          `json:"text,omitempty"`
	Style   json.RawMessage `json:"style,omitempty"`
	Checked bool            `json:"checked,omitempty"`
}

type jsonFile struct {
	Hash           string          `json:"hash,omitempty"`
	Name           string          `json:"name,omitempty"`
	Type           json.RawMessage `json:"type,omitempty"`
	Mime           string          `json:"mime,omitempty"`
	Size           json.RawMessage `json:"size,omitempty"`
	State          json.RawMessage `json:"state,omitempty"`
	TargetObjectID string          `json:"targetObjectId,omitempty"`
}

type jsonStyled struct {
	Style json.RawMessage `json:"style,omitempty"`
}

type jsonBookmark struct {
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type jsonLink struct {
	TargetBlockID string `json:"targetBlockId,omitempty"`
}

type jsonLatex struct {
	Text string `json:"text,omitempty"`
}

type jsonTableRow struct {
	IsHeader bool `json:"isHeader,omitempty"`
}

var (
	divStyleNames  = []string{"Line", "Dots"}
	fileTypeNames  = []string{"None", "File", "Image", "Video", "Audio", "PDF"}
	fileStateNames = []string{"Empty", "Uploading", "Done", "Error"}
)

// DecodeJSON parses a pb-json snapshot.
func DecodeJSON(b []byte) (*Snapshot, error) {
	var js jsonSnapshot
	if err := json.Unmarshal(b, &js); err != nil {
		return nil, fmt.Errorf("decoding pb-json snapshot: %w", err)
	}
	if js.Snapshot.Data == nil {
		return nil, ErrMissingData
	}

	s := &Snapshot{ObjectTypes: js.Snapshot.Data.ObjectTypes}
	if len(js.SBType) > 0 {
		if js.SBType[0] == '"' {
			var name string
			if err := json.Unmarshal(js.SBType, &name); err != nil {
				return nil, fmt.Errorf("decoding sbType: %w", err)
			}
			t, ok := parseSmartBlockType(name)
			if !ok {
				return nil, fmt.Errorf("unknown sbType %q", name)
			}
			s.SBType = t
		} else {
			n, err := strconv.ParseInt(string(js.SBType), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("decoding sbType: %w", err)
			}
			s.SBType = SmartBlockType(n)
		}
	}

	var err error
	if s.Details, err = decodeJSONStruct(js.Snapshot.Data.Details); err != nil {
		return nil, fmt.Errorf("decoding details: %w", err)
	}
	for i := range js.Snapshot.Data.Blocks {
		blk, err := fromJSONBlock(&js.Snapshot.Data.Blocks[i])
		if err != nil {
			return nil, fmt.Errorf("decoding block %d: %w", i, err)
		}
		s.Blocks = append(s.Blocks, blk)
	}
	return s, nil
}

func decodeJSONStruct(raw json.RawMessage) (*structpb.Struct, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}

func fromJSONBlock(jb *jsonBlock) (*Block, error) {
	blk := &Block{ID: jb.ID, ChildrenIDs: jb.ChildrenIDs}
	var err error
	if blk.Fields, err = decodeJSONStruct(jb.Fields); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if t := jb.Text; t != nil {
		style, err := decodeEnum(t.Style, textStyleNames)
		if err != nil {
			return nil, fmt.Errorf("text style: %w", err)
		}
		blk.Text = &Text{Text: t.Text, Style: TextStyle(style), Checked: t.Checked}
	}
	if f := jb.File; f != nil {
		typ, err := decodeEnum(f.Type, fileTypeNames)
		if err != nil {
			return nil, fmt.Errorf("file type: %w", err)
		}
		state, err := decodeEnum(f.State, fileStateNames)
		if err != nil {
			return nil, fmt.Errorf("file state: %w", err)
		}
		size, err := decodeInt64(f.Size)
		if err != nil {
			return nil, fmt.Errorf("file size: %w", err)
		}
		blk.File = &File{
			Hash: f.Hash, Name: f.Name, Type: FileType(typ), Mime: f.Mime,
			Size: size, State: FileState(state), TargetObjectID: f.TargetObjectID,
		}
	}
	if l := jb.Layout; l != nil {
		style, err := decodeEnum(l.Style, layoutStyleNames)
		if err != nil {
			return nil, fmt.Errorf("layout style: %w", err)
		}
		blk.Layout = &Layout{Style: LayoutStyle(style)}
	}
	if d := jb.Div; d != nil {
		style, err := decodeEnum(d.Style, divStyleNames)
		if err != nil {
			return nil, fmt.Errorf("div style: %w", err)
		}
		blk.Div = &Div{Style: DivStyle(style)}
	}
	if bm := jb.Bookmark; bm != nil {
		blk.Bookmark = &Bookmark{URL: bm.URL, Title: bm.Title, Description: bm.Description}
	}
	if l := jb.Link; l != nil {
		blk.Link = &Link{TargetBlockID: l.TargetBlockID}
	}
	if l := jb.Latex; l != nil {
		blk.Latex = &Latex{Text: l.Text}
	}
	if jb.Table != nil {
		blk.Table = &Table{}
	}
	if jb.TableColumn != nil {
		blk.TableColumn = &TableColumn{}
	}
	if r := jb.TableRow; r != nil {
		blk.TableRow = &TableRow{IsHeader: r.IsHeader}
	}
	return blk, nil
}

func decodeEnum(raw json.RawMessage, names []string) (int32, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return 0, err
		}
		for i, n := range names {
			if n == name {
				return int32(i), nil
			}
		}
		return 0, fmt.Errorf("unknown value %q", name)
	}
	n, err := strconv.ParseInt(string(raw), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func decodeInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	return strconv.ParseInt(text, 10, 64)
}

func encodeEnum(v int32, names []string) json.RawMessage {
	if v == 0 {
		return nil
	}
	if v > 0 && int(v) < len(names) {
		return json.RawMessage(strconv.Quote(names[v]))
	}
	return json.RawMessage(strconv.FormatInt(int64(v), 10))
}

func encodeJSONStruct(st *structpb.Struct) (json.RawMessage, error) {
	if st == nil {
		return nil, nil
	}
	// encoding/json sorts map keys, which keeps the output stable.
	return json.Marshal(st.AsMap())
}

// EncodeJSON renders s in pb-json form, indented for readability.
func EncodeJSON(s *Snapshot) ([]byte, error) {
	data := &jsonData{ObjectTypes: s.ObjectTypes}
	var err error
	if data.Details, err = encodeJSONStruct(s.Details); err != nil {
		return nil, fmt.Errorf("encoding details: %w", err)
	}
	for _, blk := range s.Blocks {
		jb := jsonBlock{ID: blk.ID, ChildrenIDs: blk.ChildrenIDs}
		if jb.Fields, err = encodeJSONStruct(blk.Fields); err != nil {
			return nil, fmt.Errorf("encoding block fields: %w", err)
		}
		if t := blk.Text; t != nil {
			jb.Text = &jsonText{Text: t.Text, Style: encodeEnum(int32(t.Style), textStyleNames), Checked: t.Checked}
		}
		if f := blk.File; f != nil {
			jf := &jsonFile{
				Hash: f.Hash, Name: f.Name, Mime: f.Mime, TargetObjectID: f.TargetObjectID,
				Type:  encodeEnum(int32(f.Type), fileTypeNames),
				State: encodeEnum(int32(f.State), fileStateNames),
			}
			if f.Size != 0 {
				jf.Size = json.RawMessage(strconv.Quote(strconv.FormatInt(f.Size, 10)))
			}
			jb.File = jf
		}
		if l := blk.Layout; l != nil {
			jb.Layout = &jsonStyled{Style: encodeEnum(int32(l.Style), layoutStyleNames)}
		}
		if d := blk.Div; d != nil {
			jb.Div = &jsonStyled{Style: encodeEnum(int32(d.Style), divStyleNames)}
		}
		if bm := blk.Bookmark; bm != nil {
			jb.Bookmark = &jsonBookmark{URL: bm.URL, Title: bm.Title, Description: bm.Description}
		}
		if l := blk.Link; l != nil {
			jb.Link = &jsonLink{TargetBlockID: l.TargetBlockID}
		}
		if l := blk.Latex; l != nil {
			jb.Latex = &jsonLatex{Text: l.Text}
		}
		if blk.Table != nil {
			jb.Table = &struct{}{}
		}
		if blk.TableColumn != nil {
			jb.TableColumn = &struct{}{}
		}
		if r := blk.TableRow; r != nil {
			jb.TableRow = &jsonTableRow{IsHeader: r.IsHeader}
		}
		data.Blocks = append(data.Blocks, jb)
	}

	js := jsonSnapshot{Snapshot: jsonChange{Data: data}}
	if name, ok := smartBlockNames[s.SBType]; ok {
		js.SBType = json.RawMessage(strconv.Quote(name))
	} else if s.SBType != 0 {
		js.SBType = json.RawMessage(strconv.FormatInt(int64(s.SBType), 10))
	}
	return json.MarshalIndent(js, "", "  ")
}
