// Package composition models the pallet list of a runtime's lib.rs.
//
// It understands the construct_runtime! invocation: the ordered pallet
// entries inside its `Runtime { .. }` block with their indices, and the
// `impl <module>::Config for Runtime { .. }` blocks configuring them.
// Like the manifest model it edits by byte splices, so the rest of the
// source is never reformatted.
package composition

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/internal/util"
)

// MaxIndex is the largest pallet index a runtime accepts (indices are u8)
const MaxIndex = 255

// watermarkPrefix marks the comment remembering indices that must not be reused
const watermarkPrefix = "subman:next-index"

var watermarkRe = regexp.MustCompile(`^//\s*subman:next-index\s*=\s*(\d+)\s*$`)

// Entry is one pallet of the construct_runtime! block
type Entry struct {
	Alias    string // Balances
	Module   string // pallet_balances
	Index    int    // -1 on Upsert means "allocate the next free index"
	Explicit bool   // index written as `= N`
}

// Stub is an `impl <Module>::Config for Runtime` block
type Stub struct {
	Module string
	Line   int // 1-based line of `impl`

	start, end int // bytes removed with the stub
}

type entryLoc struct {
	Entry
	start, end int // from the first attribute to the last token before the comma
	comma      int // -1 when there is none
}

// document is one parsed revision of lib.rs
type document struct {
	src       []byte
	entries   []*entryLoc
	stubs     []Stub
	stubAt    int // where new Config stubs go: before construct_runtime! and its comments
	open      int // '{' of the pallet block
	close     int // '}' of the pallet block
	watermark int // -1 when absent
	markSpan  [2]int
}

// Model is a parsed runtime composition source
type Model struct {
	path string
	base int
	doc  *document
}

// Option configures a Model
type Option func(*Model)

// WithBaseIndex sets the index given to the first pallet of an empty block
func WithBaseIndex(base int) Option {
	return func(m *Model) {
		m.base = base
	}
}

// Load reads and parses the composition source at path
func Load(path string, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read runtime source %s", path)
	}
	return Parse(path, data, opts...)
}

// Parse builds a model from data
func Parse(path string, data []byte, opts ...Option) (*Model, error) {
	m := &Model{path: path}
	for _, opt := range opts {
		opt(m)
	}
	doc, err := m.parse(slices.Clone(data))
	if err != nil {
		return nil, err
	}
	m.doc = doc
	return m, nil
}

// Path returns the source file path
func (m *Model) Path() string { return m.path }

// Serialize returns the source bytes
func (m *Model) Serialize() []byte {
	return slices.Clone(m.doc.src)
}

// Entries returns the pallets in declaration order
func (m *Model) Entries() []Entry {
	out := make([]Entry, len(m.doc.entries))
	for i, loc := range m.doc.entries {
		out[i] = loc.Entry
	}
	return out
}

// Get finds a pallet by alias (Balances), module (pallet_balances) or crate name (pallet-balances)
func (m *Model) Get(name string) (Entry, bool) {
	if loc := m.lookup(name); loc != nil {
		return loc.Entry, true
	}
	return Entry{}, false
}

// Stub returns the first Config impl for module
func (m *Model) Stub(module string) (Stub, bool) {
	for _, s := range m.doc.stubs {
		if s.Module == module {
			return s, true
		}
	}
	return Stub{}, false
}

// NextIndex returns the index the next new pallet receives: one past the
// highest index in use, never below the base index or a recorded watermark.
func (m *Model) NextIndex() int {
	next := m.base
	for _, loc := range m.doc.entries {
		next = max(next, loc.Index+1)
	}
	return max(next, m.doc.watermark)
}

// Upsert makes sure the pallet is listed and has a Config stub.
// An existing pallet keeps its index; a new one is appended with
// e.Index, or NextIndex when e.Index is negative. The returned entry
// carries the index actually in effect.
func (m *Model) Upsert(e Entry) (Entry, error) {
	if e.Alias == "" || e.Module == "" {
		return Entry{}, errors.NewInvalidRequestError("composition entry needs an alias and a module")
	}

	var edits []edit
	if loc := m.lookupEntry(e); loc != nil {
		if loc.Module != e.Module {
			return Entry{}, errors.NewInvalidRequestError("alias %s is already used by %s", e.Alias, loc.Module)
		}
		e = loc.Entry
	} else {
		if e.Index < 0 {
			e.Index = m.NextIndex()
		}
		if e.Index > MaxIndex {
			return Entry{}, errors.NewInvalidRequestError("pallet index %d exceeds %d", e.Index, MaxIndex)
		}
		if other := m.byIndex(e.Index); other != nil {
			return Entry{}, errors.NewInvalidRequestError("pallet index %d is already used by %s", e.Index, other.Alias)
		}
		e.Explicit = true
		edits = append(edits, m.appendEntry(e)...)
	}

	if _, ok := m.Stub(e.Module); !ok {
		at := m.doc.stubAt
		edits = append(edits, edit{at, at, stubText(e.Module) + "\n\n"})
	}

	if err := m.apply(edits...); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Remove drops the pallet, its leading comments and, when no other entry
// uses the module, its Config stubs. Indices of the remaining pallets are
// pinned so they do not shift, and removing the highest index records a
// watermark so that index is not handed out again.
func (m *Model) Remove(name string) (bool, error) {
	loc := m.lookup(name)
	if loc == nil {
		return false, nil
	}
	doc := m.doc
	pos := slices.Index(doc.entries, loc)

	edits := []edit{m.entryDeletion(pos)}

	if pos+1 < len(doc.entries) {
		if next := doc.entries[pos+1]; !next.Explicit {
			edits = append(edits, edit{next.end, next.end, fmt.Sprintf(" = %d", next.Index)})
		}
	}

	shared := false
	for _, other := range doc.entries {
		if other != loc && other.Module == loc.Module {
			shared = true
		}
	}
	if !shared {
		for _, s := range doc.stubs {
			if s.Module == loc.Module {
				edits = append(edits, edit{s.start, s.end, ""})
			}
		}
	}

	if mark, ok := m.watermarkEdit(loc); ok {
		edits = append(edits, mark)
	}

	if err := m.apply(edits...); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Model) lookup(name string) *entryLoc {
	module := util.CrateModule(name)
	for _, loc := range m.doc.entries {
		if loc.Alias == name || loc.Module == module {
			return loc
		}
	}
	return nil
}

func (m *Model) lookupEntry(e Entry) *entryLoc {
	for _, loc := range m.doc.entries {
		if loc.Alias == e.Alias || loc.Module == e.Module {
			return loc
		}
	}
	return nil
}

func (m *Model) byIndex(index int) *entryLoc {
	for _, loc := range m.doc.entries {
		if loc.Index == index {
			return loc
		}
	}
	return nil
}

func stubText(module string) string {
	return fmt.Sprintf("impl %s::Config for Runtime {\n\t/* %s Trait config goes here */\n}", module, module)
}

// appendEntry writes `Alias: module = N,` after the last pallet
func (m *Model) appendEntry(e Entry) []edit {
	doc := m.doc
	src := doc.src
	text := fmt.Sprintf("%s: %s = %d", e.Alias, e.Module, e.Index)

	if len(doc.entries) == 0 {
		if indent, own := leadingIndent(src, doc.close); own {
			at := lineStart(src, doc.close)
			return []edit{{at, at, indent + "\t" + text + ",\n"}}
		}
		indent := lineIndent(src, doc.open)
		return []edit{{doc.open + 1, doc.close, "\n" + indent + "\t" + text + ",\n" + indent}}
	}

	last := doc.entries[len(doc.entries)-1]
	after := last.end
	if last.comma >= 0 {
		after = last.comma + 1
	}

	if indent, own := leadingIndent(src, last.start); own && restIsTrivia(src, after) {
		at := lineEnd(src, after)
		edits := []edit{{at, at, indent + text + ",\n"}}
		if last.comma < 0 {
			edits = append(edits, edit{last.end, last.end, ","})
		}
		return edits
	}

	if last.comma < 0 {
		return []edit{{last.end, last.end, ", " + text}}
	}
	return []edit{{after, after, " " + text + ","}}
}

// entryDeletion removes entry pos with its comma and the comment lines above it
func (m *Model) entryDeletion(pos int) edit {
	doc := m.doc
	src := doc.src
	loc := doc.entries[pos]

	after := loc.end
	if loc.comma >= 0 {
		after = loc.comma + 1
	}
	if _, own := leadingIndent(src, loc.start); own && restIsTrivia(src, after) {
		start := attachedComments(src, lineStart(src, loc.start))
		return edit{start, lineEnd(src, after), ""}
	}

	switch {
	case loc.comma >= 0:
		end := skipSpaces(src, loc.comma+1)
		if pos+1 < len(doc.entries) {
			end = doc.entries[pos+1].start
		}
		return edit{loc.start, end, ""}
	case pos > 0:
		prev := doc.entries[pos-1]
		from := prev.end
		if prev.comma >= 0 {
			from = prev.comma
		}
		return edit{from, loc.end, ""}
	default:
		return edit{loc.start, loc.end, ""}
	}
}

// watermarkEdit records the next free index when removing loc would lower it
func (m *Model) watermarkEdit(loc *entryLoc) (edit, bool) {
	doc := m.doc
	next := m.NextIndex()

	remaining := m.base
	for _, other := range doc.entries {
		if other != loc {
			remaining = max(remaining, other.Index+1)
		}
	}
	if next <= remaining || next == doc.watermark {
		return edit{}, false
	}

	marker := fmt.Sprintf("// %s = %d", watermarkPrefix, next)
	if doc.watermark >= 0 {
		return edit{doc.markSpan[0], doc.markSpan[1], marker}, true
	}
	if indent, own := leadingIndent(doc.src, doc.close); own {
		at := lineStart(doc.src, doc.close)
		return edit{at, at, indent + "\t" + marker + "\n"}, true
	}
	indent := lineIndent(doc.src, doc.open)
	return edit{doc.close, doc.close, "\n" + indent + "\t" + marker + "\n" + indent}, true
}

// edit replaces src[start:end] with text
type edit struct {
	start, end int
	text       string
}

// apply splices edits into the source and re-parses it.
// The model is unchanged when the result does not parse.
func (m *Model) apply(edits ...edit) error {
	if len(edits) == 0 {
		return nil
	}

	sorted := slices.Clone(edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start > sorted[j].start
		}
		return sorted[i].end > sorted[j].end
	})

	nl := newline(m.doc.src)
	out := slices.Clone(m.doc.src)
	for i, e := range sorted {
		if i > 0 && e.end > sorted[i-1].start {
			return errors.AssertionFailedf("overlapping edits at %d", e.start)
		}
		out = slices.Concat(out[:e.start], []byte(withNewline(e.text, nl)), out[e.end:])
	}

	doc, err := m.parse(out)
	if err != nil {
		return errors.Wrap(err, "edit produced an unreadable runtime source")
	}
	m.doc = doc
	return nil
}

// parse locates construct_runtime!, its pallet block and the Config stubs
func (m *Model) parse(src []byte) (*document, error) {
	toks, comments, err := lex(src)
	if err != nil {
		return nil, m.parseError(src, -1, err.Error())
	}

	doc := &document{src: src, watermark: -1}

	macro := -1
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].kind == tokIdent && toks[i].text == "construct_runtime" && toks[i+1].is("!") && isOpen(toks[i+2]) {
			macro = i
			break
		}
	}
	if macro < 0 {
		return nil, errors.WithHint(m.parseError(src, -1, "construct_runtime! invocation not found"),
			"runtimes declared with #[frame_support::runtime] are not supported")
	}

	macroEnd := matching(toks, macro+2)
	if macroEnd < 0 {
		return nil, m.parseError(src, toks[macro].start, "unterminated construct_runtime!")
	}

	block := -1
	for i := macro + 3; i+1 < macroEnd; i++ {
		if (toks[i].is("enum") || toks[i].is("struct")) && toks[i+1].is("Runtime") {
			for j := i + 2; j < macroEnd; j++ {
				if toks[j].is("{") {
					block = j
					break
				}
			}
			break
		}
	}
	if block < 0 {
		return nil, m.parseError(src, toks[macro].start, "construct_runtime! has no `Runtime { .. }` pallet block")
	}
	blockEnd := matching(toks, block)
	if blockEnd < 0 || blockEnd > macroEnd {
		return nil, m.parseError(src, toks[block].start, "unterminated pallet block")
	}
	doc.open, doc.close = toks[block].start, toks[blockEnd].start

	if err := m.parseEntries(doc, toks[block+1:blockEnd]); err != nil {
		return nil, err
	}
	doc.stubs = findStubs(src, toks)

	start := macro
	for start >= 2 && toks[start-1].is("::") && toks[start-2].kind == tokIdent {
		start -= 2
	}
	doc.stubAt = attachedComments(src, lineStart(src, toks[start].start))

	for _, c := range comments {
		if c.start < doc.open || c.end > doc.close {
			continue
		}
		if sm := watermarkRe.FindStringSubmatch(c.text); sm != nil {
			n, _ := strconv.Atoi(sm[1])
			doc.watermark = n
			doc.markSpan = [2]int{c.start, c.end}
		}
	}

	return doc, nil
}

// parseEntries splits the pallet block on top-level commas
func (m *Model) parseEntries(doc *document, toks []token) error {
	seenAlias := make(map[string]bool)
	seenIndex := make(map[int]string)
	prev := -1

	for len(toks) > 0 {
		n, depth := 0, 0
		for n < len(toks) {
			t := toks[n]
			if depth == 0 && t.is(",") {
				break
			}
			switch {
			case isOpen(t) || t.is("<"):
				depth++
			case isClose(t) || t.is(">"):
				depth--
			}
			n++
		}
		seg := toks[:n]
		comma := -1
		if n < len(toks) {
			comma = toks[n].start
			toks = toks[n+1:]
		} else {
			toks = nil
		}
		if len(seg) == 0 {
			continue
		}

		loc, err := m.parseEntry(doc.src, seg)
		if err != nil {
			return err
		}
		loc.comma = comma
		if !loc.Explicit {
			loc.Index = prev + 1
		}
		prev = loc.Index

		if seenAlias[loc.Alias] {
			return m.parseError(doc.src, loc.start, fmt.Sprintf("pallet %s is declared twice", loc.Alias))
		}
		if other, dup := seenIndex[loc.Index]; dup {
			return m.parseError(doc.src, loc.start, fmt.Sprintf("pallets %s and %s share index %d", other, loc.Alias, loc.Index))
		}
		seenAlias[loc.Alias] = true
		seenIndex[loc.Index] = loc.Alias
		doc.entries = append(doc.entries, loc)
	}
	return nil
}

// parseEntry reads `#[attr] Alias: path::to::module[::{Parts}|::<I>] [= N]`
func (m *Model) parseEntry(src []byte, seg []token) (*entryLoc, error) {
	loc := &entryLoc{start: seg[0].start, end: seg[len(seg)-1].end}

	i := 0
	for i+1 < len(seg) && seg[i].is("#") && seg[i+1].is("[") {
		end := matching(seg, i+1)
		if end < 0 {
			return nil, m.parseError(src, seg[i].start, "unterminated attribute")
		}
		i = end + 1
	}

	if i+2 >= len(seg) || seg[i].kind != tokIdent || !seg[i+1].is(":") || seg[i+2].kind != tokIdent {
		return nil, m.parseError(src, seg[0].start, "expected `Alias: module` in construct_runtime!")
	}
	loc.Alias = seg[i].text

	path := []string{seg[i+2].text}
	i += 3
	for i+1 < len(seg) && seg[i].is("::") && seg[i+1].kind == tokIdent {
		path = append(path, seg[i+1].text)
		i += 2
	}
	loc.Module = strings.Join(path, "::")

	depth := 0
	for ; i < len(seg); i++ {
		t := seg[i]
		switch {
		case isOpen(t) || t.is("<"):
			depth++
		case isClose(t) || t.is(">"):
			depth--
		case depth == 0 && t.is("=") && i+1 < len(seg) && seg[i+1].kind == tokLiteral:
			n, err := strconv.Atoi(strings.ReplaceAll(seg[i+1].text, "_", ""))
			if err != nil {
				return nil, m.parseError(src, seg[i+1].start, fmt.Sprintf("invalid pallet index %q", seg[i+1].text))
			}
			loc.Index, loc.Explicit = n, true
		}
	}
	return loc, nil
}

// findStubs finds `impl[<..>] path::Config[<..>] for Runtime { .. }` blocks
func findStubs(src []byte, toks []token) []Stub {
	var stubs []Stub
	for i := 0; i < len(toks); i++ {
		if !toks[i].is("impl") {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].is("<") {
			if j = matching(toks, j); j < 0 {
				continue
			}
			j++
		}

		var path []string
		for j < len(toks) && toks[j].kind == tokIdent {
			path = append(path, toks[j].text)
			if j+1 < len(toks) && toks[j+1].is("::") {
				j += 2
				continue
			}
			j++
			break
		}
		if len(path) < 2 || path[len(path)-1] != "Config" {
			continue
		}
		if j < len(toks) && toks[j].is("<") {
			if j = matching(toks, j); j < 0 {
				continue
			}
			j++
		}
		if j+2 >= len(toks) || !toks[j].is("for") || !toks[j+1].is("Runtime") || !toks[j+2].is("{") {
			continue
		}
		end := matching(toks, j+2)
		if end < 0 {
			continue
		}

		start := toks[i].start
		if _, own := leadingIndent(src, start); own {
			start = attachedComments(src, lineStart(src, start))
		}
		stop := toks[end].end
		if restIsTrivia(src, stop) {
			stop = lineEnd(src, stop)
			if blankLineAt(src, stop) {
				stop = lineEnd(src, stop)
			}
		}

		stubs = append(stubs, Stub{
			Module: strings.Join(path[:len(path)-1], "::"),
			Line:   lineOf(src, toks[i].start),
			start:  start,
			end:    stop,
		})
		i = end
	}
	return stubs
}

func isOpen(t token) bool  { return t.is("(") || t.is("[") || t.is("{") }
func isClose(t token) bool { return t.is(")") || t.is("]") || t.is("}") }

// matching returns the index of the token closing toks[open], or -1.
// Angle brackets are matched only when open is '<'.
func matching(toks []token, open int) int {
	angles := toks[open].is("<")
	depth := 0
	for i := open; i < len(toks); i++ {
		t := toks[i]
		switch {
		case isOpen(t) || (angles && t.is("<")):
			depth++
		case isClose(t) || (angles && t.is(">")):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseError reports runtime source the model cannot understand.
// It matches errors.ErrCompositionParse.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Is makes errors.Is(err, errors.ErrCompositionParse) hold
func (e *ParseError) Is(target error) bool {
	return target == errors.ErrCompositionParse
}

func (m *Model) parseError(src []byte, offset int, msg string) error {
	line := 0
	if offset >= 0 {
		line = lineOf(src, offset)
	}
	return &ParseError{Path: m.path, Line: line, Msg: msg}
}
