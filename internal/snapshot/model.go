package snapshot

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// SmartBlockType identifies the kind of object a snapshot captures.
type SmartBlockType int32

const (
	SmartBlockPage           SmartBlockType = 0x10
	SmartBlockProfilePage    SmartBlockType = 0x11
	SmartBlockHome           SmartBlockType = 0x20
	SmartBlockArchive        SmartBlockType = 0x30
	SmartBlockWidget         SmartBlockType = 0x70
	SmartBlockFile           SmartBlockType = 0x100
	SmartBlockTemplate       SmartBlockType = 0x120
	SmartBlockWorkspace      SmartBlockType = 0x206
	SmartBlockRelation       SmartBlockType = 0x209
	SmartBlockObjectType     SmartBlockType = 0x210
	SmartBlockRelationOption SmartBlockType = 0x211
	SmartBlockSpaceView      SmartBlockType = 0x212
	SmartBlockFileObject     SmartBlockType = 0x215
	SmartBlockParticipant    SmartBlockType = 0x216
	SmartBlockChat           SmartBlockType = 0x219
	SmartBlockChatDerived    SmartBlockType = 0x220
)

var smartBlockNames = map[SmartBlockType]string{
	SmartBlockPage:           "Page",
	SmartBlockProfilePage:    "ProfilePage",
	SmartBlockHome:           "Home",
	SmartBlockArchive:        "Archive",
	SmartBlockWidget:         "Widget",
	SmartBlockFile:           "File",
	SmartBlockTemplate:       "Template",
	SmartBlockWorkspace:      "Workspace",
	SmartBlockRelation:       "STRelation",
	SmartBlockObjectType:     "STType",
	SmartBlockRelationOption: "STRelationOption",
	SmartBlockSpaceView:      "SpaceView",
	SmartBlockFileObject:     "FileObject",
	SmartBlockParticipant:    "Participant",
	SmartBlockChat:           "ChatObject",
	SmartBlockChatDerived:    "ChatDerivedObject",
}

func (t SmartBlockType) String() string {
	if name, ok := smartBlockNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SmartBlockType(%d)", int32(t))
}

// Supporting reports whether snapshots of this type describe the space itself
// rather than user content. Selective restores always carry them along.
func (t SmartBlockType) Supporting() bool {
	switch t {
	case SmartBlockWorkspace, SmartBlockWidget, SmartBlockSpaceView:
		return true
	}
	return false
}

// Extractable reports whether objects of this type can be rendered or saved
// on their own.
func (t SmartBlockType) Extractable() bool {
	switch t {
	case SmartBlockObjectType, SmartBlockRelation, SmartBlockRelationOption,
		SmartBlockParticipant, SmartBlockSpaceView, SmartBlockChat, SmartBlockChatDerived:
		return false
	}
	return true
}

func parseSmartBlockType(name string) (SmartBlockType, bool) {
	for t, n := range smartBlockNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Object layouts as stored in the "layout" detail. Layouts LayoutFile through
// LayoutPDF carry a binary payload in the archive's files/ directory.
const (
	LayoutBasic          = 0
	LayoutProfile        = 1
	LayoutTodo           = 2
	LayoutSet            = 3
	LayoutObjectType     = 4
	LayoutRelation       = 5
	LayoutDashboard      = 7
	LayoutFile           = 8
	LayoutImage          = 9
	LayoutAudio          = 10
	LayoutVideo          = 11
	LayoutPDF            = 12
	LayoutRelationOption = 13
	LayoutCollection     = 14
	LayoutBookmark       = 15
	LayoutNote           = 16
	LayoutSpaceView      = 18
	LayoutParticipant    = 19
	LayoutChat           = 21
)

var layoutNames = map[int]string{
	LayoutBasic:          "basic",
	LayoutProfile:        "profile",
	LayoutTodo:           "todo",
	LayoutSet:            "set",
	LayoutObjectType:     "objectType",
	LayoutRelation:       "relation",
	LayoutDashboard:      "dashboard",
	LayoutFile:           "file",
	LayoutImage:          "image",
	LayoutAudio:          "audio",
	LayoutVideo:          "video",
	LayoutPDF:            "pdf",
	LayoutRelationOption: "relationOption",
	LayoutCollection:     "collection",
	LayoutBookmark:       "bookmark",
	LayoutNote:           "note",
	LayoutSpaceView:      "spaceView",
	LayoutParticipant:    "participant",
	LayoutChat:           "chat",
}

// LayoutName returns the symbolic name of a layout, or "" if unknown.
func LayoutName(layout int) string {
	return layoutNames[layout]
}

// IsFileLayout reports whether the layout stores its content as a raw blob.
func IsFileLayout(layout int) bool {
	return layout >= LayoutFile && layout <= LayoutPDF
}

type TextStyle int32

const (
	TextParagraph TextStyle = iota
	TextHeader1
	TextHeader2
	TextHeader3
	TextHeader4
	TextQuote
	TextCode
	TextTitle
	TextCheckbox
	TextMarked
	TextNumbered
	TextToggle
	TextDescription
	TextCallout
)

var textStyleNames = []string{
	"Paragraph", "Header1", "Header2", "Header3", "Header4", "Quote", "Code",
	"Title", "Checkbox", "Marked", "Numbered", "Toggle", "Description", "Callout",
}

func (s TextStyle) String() string {
	if s >= 0 && int(s) < len(textStyleNames) {
		return textStyleNames[s]
	}
	return fmt.Sprintf("TextStyle(%d)", int32(s))
}

type LayoutStyle int32

const (
	LayoutRow LayoutStyle = iota
	LayoutColumn
	LayoutDiv
	LayoutHeader
	LayoutTableRows
	LayoutTableColumns
)

var layoutStyleNames = []string{"Row", "Column", "Div", "Header", "TableRows", "TableColumns"}

func (s LayoutStyle) String() string {
	if s >= 0 && int(s) < len(layoutStyleNames) {
		return layoutStyleNames[s]
	}
	return fmt.Sprintf("LayoutStyle(%d)", int32(s))
}

type DivStyle int32

const (
	DivLine DivStyle = iota
	DivDots
)

type FileType int32

const (
	FileTypeNone FileType = iota
	FileTypeFile
	FileTypeImage
	FileTypeVideo
	FileTypeAudio
	FileTypePDF
)

type FileState int32

const (
	FileStateEmpty FileState = iota
	FileStateUploading
	FileStateDone
	FileStateError
)

// Snapshot is the decoded form of one object capture. Only the parts the
// archive engine reads are modelled; everything else is carried through
// untouched in the unknown byte slices so re-encoding keeps it.
type Snapshot struct {
	SBType      SmartBlockType
	Blocks      []*Block
	Details     *structpb.Struct
	ObjectTypes []string

	unknownOuter  []byte
	unknownChange []byte
	unknownData   []byte
}

// Block is one node of the document tree. At most one content field is set.
type Block struct {
	ID          string
	Fields      *structpb.Struct
	ChildrenIDs []string

	Text        *Text
	File        *File
	Layout      *Layout
	Div         *Div
	Bookmark    *Bookmark
	Link        *Link
	Latex       *Latex
	Table       *Table
	TableColumn *TableColumn
	TableRow    *TableRow

	unknown []byte
}

type Text struct {
	Text    string
	Style   TextStyle
	Checked bool

	unknown []byte
}

type File struct {
	Hash           string
	Name           string
	Type           FileType
	Mime           string
	Size           int64
	State          FileState
	TargetObjectID string

	unknown []byte
}

type Layout struct {
	Style LayoutStyle

	unknown []byte
}

type Div struct {
	Style DivStyle

	unknown []byte
}

type Bookmark struct {
	URL         string
	Title       string
	Description string

	unknown []byte
}

type Link struct {
	TargetBlockID string

	unknown []byte
}

type Latex struct {
	Text string

	unknown []byte
}

type Table struct {
	unknown []byte
}

type TableColumn struct {
	unknown []byte
}

type TableRow struct {
	IsHeader bool

	unknown []byte
}

// BlockByID indexes the snapshot's blocks by id.
func (s *Snapshot) BlockByID() map[string]*Block {
	out := make(map[string]*Block, len(s.Blocks))
	for _, b := range s.Blocks {
		out[b.ID] = b
	}
	return out
}

// New builds a snapshot from plain detail values. details may hold strings,
// numbers, bools and []any as accepted by structpb.NewStruct.
func New(sbType SmartBlockType, details map[string]any, blocks ...*Block) (*Snapshot, error) {
	st, err := structpb.NewStruct(details)
	if err != nil {
		return nil, fmt.Errorf("building details: %w", err)
	}
	return &Snapshot{SBType: sbType, Details: st, Blocks: blocks}, nil
}

// SetDetail sets a single detail value, creating the details struct if needed.
func (s *Snapshot) SetDetail(key string, v any) error {
	val, err := structpb.NewValue(v)
	if err != nil {
		return fmt.Errorf("detail %s: %w", key, err)
	}
	if s.Details == nil {
		s.Details = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	if s.Details.Fields == nil {
		s.Details.Fields = map[string]*structpb.Value{}
	}
	s.Details.Fields[key] = val
	return nil
}

// TextBlock returns a text block with the given style.
func TextBlock(id, text string, style TextStyle) *Block {
	return &Block{ID: id, Text: &Text{Text: text, Style: style}}
}

// ContainerBlock returns a block with no content of its own.
func ContainerBlock(id string, children ...string) *Block {
	return &Block{ID: id, ChildrenIDs: children}
}
