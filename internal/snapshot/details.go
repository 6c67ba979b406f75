package snapshot

import (
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Detail keys read by the archive engine.
const (
	DetailID               = "id"
	DetailName             = "name"
	DetailSnippet          = "snippet"
	DetailType             = "type"
	DetailLayout           = "layout"
	DetailResolvedLayout   = "resolvedLayout"
	DetailLastModifiedDate = "lastModifiedDate"
	DetailCreatedDate      = "createdDate"
	DetailIsArchived       = "isArchived"
	DetailFileExt          = "fileExt"
	DetailLinks            = "links"
)

func detail(st *structpb.Struct, key string) *structpb.Value {
	if st == nil {
		return nil
	}
	return st.GetFields()[key]
}

// StringDetail returns a string detail. Numeric and boolean values are
// formatted; lists yield their first string element.
func StringDetail(st *structpb.Struct, key string) string {
	v := detail(st, key)
	if v == nil {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	case *structpb.Value_ListValue:
		for _, item := range k.ListValue.GetValues() {
			if s, ok := item.GetKind().(*structpb.Value_StringValue); ok {
				return s.StringValue
			}
		}
	}
	return ""
}

// NumberDetail returns a numeric detail. Strings holding integers are
// accepted because pb-json exports sometimes quote them.
func NumberDetail(st *structpb.Struct, key string) (float64, bool) {
	v := detail(st, key)
	if v == nil {
		return 0, false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, true
	case *structpb.Value_StringValue:
		n, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func BoolDetail(st *structpb.Struct, key string) bool {
	v := detail(st, key)
	if v == nil {
		return false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StringValue:
		return k.StringValue == "true"
	}
	return false
}

// ListDetail returns the string elements of a list detail. A plain string is
// treated as a one-element list.
func ListDetail(st *structpb.Struct, key string) []string {
	v := detail(st, key)
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		if k.StringValue == "" {
			return nil
		}
		return []string{k.StringValue}
	case *structpb.Value_ListValue:
		var out []string
		for _, item := range k.ListValue.GetValues() {
			if s, ok := item.GetKind().(*structpb.Value_StringValue); ok && s.StringValue != "" {
				out = append(out, s.StringValue)
			}
		}
		return out
	}
	return nil
}

// ID returns the object id recorded in the snapshot details.
func (s *Snapshot) ID() string { return StringDetail(s.Details, DetailID) }

func (s *Snapshot) Name() string { return StringDetail(s.Details, DetailName) }

func (s *Snapshot) Snippet() string { return StringDetail(s.Details, DetailSnippet) }

// TypeKey returns the object type reference (key or id) from the details.
func (s *Snapshot) TypeKey() string { return StringDetail(s.Details, DetailType) }

// Layout returns the object layout, falling back to the resolved layout.
func (s *Snapshot) Layout() (int, bool) {
	for _, key := range []string{DetailLayout, DetailResolvedLayout} {
		if n, ok := NumberDetail(s.Details, key); ok {
			return int(n), true
		}
	}
	return 0, false
}

// IsFile reports whether the object is stored as a binary payload.
func (s *Snapshot) IsFile() bool {
	layout, ok := s.Layout()
	return ok && IsFileLayout(layout)
}

func (s *Snapshot) Archived() bool { return BoolDetail(s.Details, DetailIsArchived) }

func (s *Snapshot) FileExt() string {
	return strings.TrimPrefix(StringDetail(s.Details, DetailFileExt), ".")
}

// Links returns the ids of objects this object references.
func (s *Snapshot) Links() []string { return ListDetail(s.Details, DetailLinks) }

// LastModified returns the last-modified time. The detail is stored in
// seconds since the epoch.
func (s *Snapshot) LastModified() (time.Time, bool) {
	return UnixDetail(s.Details, DetailLastModifiedDate)
}

// UnixDetail parses a seconds-since-epoch detail, also accepting RFC3339 text.
func UnixDetail(st *structpb.Struct, key string) (time.Time, bool) {
	if n, ok := NumberDetail(st, key); ok {
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	if text := StringDetail(st, key); text != "" {
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
