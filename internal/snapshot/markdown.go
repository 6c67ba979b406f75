package snapshot

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ObjectInfo describes another object in the same archive so links and file
// references can be rendered with a title and a relative target.
type ObjectInfo struct {
	ID        string
	Name      string
	Snippet   string
	Layout    int
	HasLayout bool
	FileExt   string
}

// InfoOf extracts link metadata from a decoded snapshot.
func InfoOf(id string, s *Snapshot) ObjectInfo {
	info := ObjectInfo{ID: id, Name: s.Name(), Snippet: s.Snippet(), FileExt: s.FileExt()}
	info.Layout, info.HasLayout = s.Layout()
	return info
}

// RenderMarkdown renders the document tree of s. index may be nil, in which
// case object links are omitted and file references fall back to the names
// stored on the block.
func RenderMarkdown(s *Snapshot, index map[string]ObjectInfo) string {
	r := &renderer{blocks: s.BlockByID(), docs: index}
	root := rootBlock(s)
	if root == nil {
		return ""
	}
	var out strings.Builder
	r.renderChildren(&out, &renderState{}, root, 0)
	return out.String()
}

func rootBlock(s *Snapshot) *Block {
	if len(s.Blocks) == 0 {
		return nil
	}
	if id := s.ID(); id != "" {
		for _, b := range s.Blocks {
			if b.ID == id {
				return b
			}
		}
	}
	children := make(map[string]bool)
	for _, b := range s.Blocks {
		for _, c := range b.ChildrenIDs {
			children[c] = true
		}
	}
	for _, b := range s.Blocks {
		if !children[b.ID] {
			return b
		}
	}
	return s.Blocks[0]
}

// maxDepth bounds recursion on malformed trees that contain cycles.
const maxDepth = 64

type renderState struct {
	indent     string
	listOpened bool
	listNumber int
}

func (s *renderState) nested(extra string) *renderState {
	return &renderState{indent: s.indent + extra}
}

type renderer struct {
	blocks map[string]*Block
	docs   map[string]ObjectInfo
}

func (r *renderer) renderChildren(out *strings.Builder, st *renderState, parent *Block, depth int) {
	if depth > maxDepth {
		return
	}
	for _, id := range parent.ChildrenIDs {
		if b, ok := r.blocks[id]; ok {
			r.renderBlock(out, st, b, depth+1)
		}
	}
}

func (r *renderer) renderBlock(out *strings.Builder, st *renderState, b *Block, depth int) {
	switch {
	case b.Text != nil:
		r.renderText(out, st, b, depth)
	case b.File != nil:
		r.renderFile(out, st, b.File)
	case b.Bookmark != nil:
		renderBookmark(out, st, b.Bookmark)
	case b.Table != nil:
		r.renderTable(out, st, b, depth)
	case b.Div != nil:
		if b.Div.Style == DivLine || b.Div.Style == DivDots {
			out.WriteString(" --- \n")
		}
		r.renderChildren(out, st, b, depth)
	case b.Link != nil:
		r.renderLink(out, st, b.Link)
	case b.Latex != nil:
		out.WriteString(st.indent)
		out.WriteString("\n$$\n")
		out.WriteString(b.Latex.Text)
		out.WriteString("\n$$\n")
	default:
		r.renderChildren(out, st, b, depth)
	}
}

func (r *renderer) renderText(out *strings.Builder, st *renderState, b *Block, depth int) {
	text := b.Text
	if st.listOpened && text.Style != TextMarked && text.Style != TextNumbered {
		out.WriteString("   \n")
		st.listOpened = false
		st.listNumber = 0
	}

	out.WriteString(st.indent)
	switch text.Style {
	case TextHeader1, TextTitle:
		r.heading(out, st, b, "# ", depth)
	case TextHeader2:
		r.heading(out, st, b, "## ", depth)
	case TextHeader3:
		r.heading(out, st, b, "### ", depth)
	case TextHeader4:
		r.heading(out, st, b, "#### ", depth)
	case TextQuote, TextToggle:
		out.WriteString("> ")
		out.WriteString(strings.ReplaceAll(text.Text, "\n", "   \n> "))
		out.WriteString("   \n\n")
		r.renderChildren(out, st, b, depth)
	case TextCode:
		out.WriteString("```\n")
		out.WriteString(st.indent)
		out.WriteString(strings.ReplaceAll(text.Text, "```", "\\`\\`\\`"))
		out.WriteString("\n")
		out.WriteString(st.indent)
		out.WriteString("```\n")
		r.renderChildren(out, st, b, depth)
	case TextCheckbox:
		if text.Checked {
			out.WriteString("- [x] ")
		} else {
			out.WriteString("- [ ] ")
		}
		writeEscapedLine(out, text.Text)
		r.renderChildren(out, st.nested("  "), b, depth)
	case TextMarked:
		out.WriteString("- ")
		writeEscapedLine(out, text.Text)
		r.renderChildren(out, st.nested("    "), b, depth)
		st.listOpened = true
	case TextNumbered:
		st.listNumber++
		fmt.Fprintf(out, "%d. ", st.listNumber)
		writeEscapedLine(out, text.Text)
		r.renderChildren(out, st.nested("    "), b, depth)
		st.listOpened = true
	default:
		writeEscapedLine(out, text.Text)
		r.renderChildren(out, st.nested("  "), b, depth)
	}
}

func (r *renderer) heading(out *strings.Builder, st *renderState, b *Block, marker string, depth int) {
	out.WriteString(marker)
	writeEscapedLine(out, b.Text.Text)
	r.renderChildren(out, st.nested("    "), b, depth)
}

func (r *renderer) renderFile(out *strings.Builder, st *renderState, f *File) {
	if f.State != FileStateDone {
		return
	}
	title, target := r.fileLink(f)
	if title == "" {
		return
	}
	out.WriteString(st.indent)
	if f.Type == FileTypeImage {
		fmt.Fprintf(out, "![%s](%s)    \n", title, target)
	} else {
		fmt.Fprintf(out, "[%s](%s)    \n", title, target)
	}
}

func renderBookmark(out *strings.Builder, st *renderState, bm *Bookmark) {
	if bm.URL == "" {
		return
	}
	title := bm.URL
	if bm.Title != "" {
		title = EscapeMarkdown(bm.Title)
	}
	out.WriteString(st.indent)
	fmt.Fprintf(out, "[%s](%s)    \n", title, bm.URL)
}

func (r *renderer) renderLink(out *strings.Builder, st *renderState, l *Link) {
	if l.TargetBlockID == "" {
		return
	}
	title, target, ok := r.objectLink(l.TargetBlockID)
	if !ok {
		return
	}
	out.WriteString(st.indent)
	fmt.Fprintf(out, "[%s](%s)    \n", EscapeMarkdown(title), target)
}

func (r *renderer) renderTable(out *strings.Builder, st *renderState, table *Block, depth int) {
	var columnIDs, rowIDs []string
	for _, id := range table.ChildrenIDs {
		child, ok := r.blocks[id]
		if !ok {
			continue
		}
		switch {
		case child.Layout != nil && child.Layout.Style == LayoutTableColumns:
			columnIDs = append([]string(nil), child.ChildrenIDs...)
		case child.Layout != nil && child.Layout.Style == LayoutTableRows:
			rowIDs = append([]string(nil), child.ChildrenIDs...)
		case child.TableRow != nil:
			rowIDs = append(rowIDs, child.ID)
		case child.TableColumn != nil:
			columnIDs = append(columnIDs, child.ID)
		}
	}
	if len(rowIDs) == 0 {
		r.renderChildren(out, st, table, depth)
		return
	}
	writeTable(out, st.indent, r.tableRows(rowIDs, columnIDs, depth))
}

func (r *renderer) tableRows(rowIDs, columnIDs []string, depth int) [][]string {
	var rows [][]string
	for _, rowID := range rowIDs {
		row, ok := r.blocks[rowID]
		if !ok {
			continue
		}
		byColumn := make(map[string]string)
		var unordered []string
		for _, cellID := range row.ChildrenIDs {
			cell, ok := r.blocks[cellID]
			if !ok {
				continue
			}
			content := r.renderCell(cell, depth)
			if col, found := strings.CutPrefix(cellID, rowID+"-"); found {
				byColumn[col] = content
			} else {
				unordered = append(unordered, content)
			}
		}

		if len(columnIDs) == 0 {
			if len(byColumn) == 0 {
				rows = append(rows, unordered)
				continue
			}
			cols := make([]string, 0, len(byColumn))
			for col := range byColumn {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			cells := make([]string, 0, len(cols))
			for _, col := range cols {
				cells = append(cells, byColumn[col])
			}
			rows = append(rows, cells)
			continue
		}

		cells := make([]string, 0, len(columnIDs))
		for i, col := range columnIDs {
			switch content, ok := byColumn[col]; {
			case ok:
				cells = append(cells, content)
			case i < len(unordered):
				cells = append(cells, unordered[i])
			default:
				cells = append(cells, " ")
			}
		}
		rows = append(rows, cells)
	}
	return rows
}

func (r *renderer) renderCell(b *Block, depth int) string {
	var sb strings.Builder
	r.renderBlock(&sb, &renderState{}, b, depth+1)
	text := strings.ReplaceAll(sb.String(), "\r\n", " ")
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return " "
	}
	return text
}

func writeTable(out *strings.Builder, indent string, rows [][]string) {
	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}
	widths := make([]int, cols)
	for i := range widths {
		widths[i] = 3
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	for i, row := range rows {
		out.WriteString(indent)
		out.WriteByte('|')
		for col := 0; col < cols; col++ {
			cell := " "
			if col < len(row) {
				cell = row[col]
			}
			out.WriteByte(' ')
			out.WriteString(cell)
			out.WriteString(strings.Repeat(" ", widths[col]-utf8.RuneCountInString(cell)))
			out.WriteString(" |")
		}
		out.WriteByte('\n')
		if i == 0 {
			out.WriteString(indent)
			out.WriteByte('|')
			for _, w := range widths {
				out.WriteByte(':')
				out.WriteString(strings.Repeat("-", w+1))
				out.WriteByte('|')
			}
			out.WriteByte('\n')
		}
	}
	out.WriteByte('\n')
}

func (r *renderer) objectLink(id string) (title, target string, ok bool) {
	info, ok := r.docs[id]
	if !ok {
		return "", "", false
	}
	title = info.Name
	if title == "" {
		title = info.Snippet
	}
	if title == "" {
		title = id
	}
	if info.HasLayout && IsFileLayout(info.Layout) {
		ext := ""
		if info.FileExt != "" {
			ext = "." + strings.TrimPrefix(info.FileExt, ".")
		}
		title = strings.TrimSuffix(title, ext)
		return title, fileTarget(id, title, ext), true
	}
	return title, docTarget(id, title), true
}

func (r *renderer) fileLink(f *File) (title, target string) {
	if f.TargetObjectID != "" {
		if title, target, ok := r.objectLink(f.TargetObjectID); ok {
			return title, target
		}
		title = path.Base(f.Name)
		return title, fileTarget(f.TargetObjectID, title, path.Ext(f.Name))
	}
	if f.Name == "" {
		return "", ""
	}
	title = path.Base(f.Name)
	return title, fileTarget(f.Hash, title, path.Ext(f.Name))
}

func docTarget(id, title string) string {
	return fmt.Sprintf("%s_%s.md", sanitizeFilename(title), id)
}

func fileTarget(id, title, ext string) string {
	return fmt.Sprintf("files/%s_%s%s", sanitizeFilename(title), id, ext)
}

func sanitizeFilename(input string) string {
	var sb strings.Builder
	for _, r := range input {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'):
			sb.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || r == '/' || r == '\\':
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "untitled"
	}
	return out
}

func writeEscapedLine(out *strings.Builder, text string) {
	out.WriteString(EscapeMarkdown(text))
	out.WriteString("   \n")
}

// EscapeMarkdown backslash-escapes markdown metacharacters.
func EscapeMarkdown(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune("\\`*_{}[]()#+-.!|>~", r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FilePath returns the archive path of the blob for a file object, matching
// the targets produced for file links in rendered markdown.
func FilePath(id, filename string) string {
	if filename == "" {
		return fileTarget(id, "", "")
	}
	base := path.Base(filename)
	ext := path.Ext(base)
	return fileTarget(id, strings.TrimSuffix(base, ext), ext)
}
