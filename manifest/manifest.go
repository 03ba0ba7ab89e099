// Package manifest is a structural model of a runtime's Cargo.toml.
//
// The model keeps the document's bytes and a map of where each dependency
// lives inside them. Edits are byte splices over those spans, so everything
// the engine does not touch (comments, key order, blank lines, unrelated
// tables) survives exactly:
//
//	m, _ := manifest.Load("runtime/Cargo.toml")
//	_ = m.Upsert(manifest.Entry{Name: "pallet-balances", Version: "4.0.0"})
//	os.WriteFile(path, m.Serialize(), 0o644)
//
// Serialize(Load(x)) is always x.
package manifest

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/subman/errors"
)

// DefaultSection is the table pallets are declared in
const DefaultSection = "dependencies"

// layout is the syntactic form an entry uses
type layout int

const (
	layoutInline layout = iota // name = "1.0" or name = { .. }
	layoutTable                // [dependencies.name]
	layoutDotted               // name.version = ".."
)

// located ties an entry to the items and spans describing it
type located struct {
	name   string
	layout layout
	items  []int // item indices, document order
	fields []field

	plain       bool     // inline entry written as a bare version string
	open, close int      // inline table: offsets of '{' and '}'
	prefix      []string // dotted: key path up to and including the name
}

func (l *located) field(key string) *field {
	for i := range l.fields {
		if canonicalKey(l.fields[i].key) == key {
			return &l.fields[i]
		}
	}
	return nil
}

// tableInfo locates a [table] and its last key/value item
type tableInfo struct {
	header int
	last   int // == header when the table has no keys
}

// document is one parsed revision of the manifest
type document struct {
	src      []byte
	items    []item
	entries  map[string]*located
	names    []string
	tables   map[string]tableInfo
	features map[string]int // feature name -> item holding its array
}

// Model is a parsed Cargo.toml
type Model struct {
	path    string
	section string
	secPath []string
	doc     *document
}

// Option configures a Model
type Option func(*Model)

// WithSection selects the dependency table to manage, e.g. "dev-dependencies"
// or "target.'cfg(unix)'.dependencies" written as dotted segments.
func WithSection(section string) Option {
	return func(m *Model) {
		m.section = section
	}
}

// Load reads and parses the manifest at path
func Load(path string, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}
	return Parse(path, data, opts...)
}

// Parse builds a model from data. path is only used for error messages and Dir.
func Parse(path string, data []byte, opts ...Option) (*Model, error) {
	m := &Model{path: path, section: DefaultSection}
	for _, opt := range opts {
		opt(m)
	}
	m.secPath = splitSection(m.section)

	doc, err := m.parse(slices.Clone(data))
	if err != nil {
		return nil, err
	}
	m.doc = doc
	return m, nil
}

// Path returns the manifest's file path
func (m *Model) Path() string { return m.path }

// Dir returns the directory holding the manifest; relative dependency paths are relative to it
func (m *Model) Dir() string { return filepath.Dir(m.path) }

// Section returns the managed dependency table
func (m *Model) Section() string { return m.section }

// Serialize returns the document bytes
func (m *Model) Serialize() []byte {
	return slices.Clone(m.doc.src)
}

// Get returns the entry declared under name
func (m *Model) Get(name string) (Entry, bool) {
	loc, ok := m.doc.entries[name]
	if !ok {
		return Entry{}, false
	}
	return entryFromFields(loc.name, loc.fields), true
}

// Entries returns every entry of the managed section in document order
func (m *Model) Entries() []Entry {
	out := make([]Entry, 0, len(m.doc.names))
	for _, name := range m.doc.names {
		e, _ := m.Get(name)
		out = append(out, e)
	}
	return out
}

// Upsert adds e, or merges it into the existing entry of the same name.
// Merging updates version and source fields, unions features, and leaves
// fields e does not mention alone. When e changes the source kind, the
// stale source fields are removed. Upserting an entry that is already
// satisfied changes nothing.
func (m *Model) Upsert(e Entry) error {
	if e.Name == "" {
		return errors.NewInvalidRequestError("manifest entry has no name")
	}

	loc, ok := m.doc.entries[e.Name]
	if !ok {
		return m.apply(m.insertEntry(e))
	}

	edits, err := m.mergeEdits(loc, e)
	if err != nil {
		return errors.Wrapf(err, "failed to merge %s", e.Name)
	}
	return m.apply(edits...)
}

// Remove deletes the entry and the comment lines directly above it.
// It reports whether anything was removed; a missing name is not an error.
func (m *Model) Remove(name string) (bool, error) {
	loc, ok := m.doc.entries[name]
	if !ok {
		return false, nil
	}

	items := m.doc.items
	var edits []edit
	switch loc.layout {
	case layoutTable:
		first, last := loc.items[0], loc.items[len(loc.items)-1]
		end := items[last].end
		for k := last + 1; k < len(items) && m.isBlank(k); k++ {
			end = items[k].end
		}
		edits = append(edits, edit{items[m.attachedStart(first)].start, end, ""})
	default:
		for i, idx := range loc.items {
			start := idx
			if i == 0 {
				start = m.attachedStart(idx)
			}
			edits = append(edits, edit{items[start].start, items[idx].end, ""})
		}
	}

	if err := m.apply(edits...); err != nil {
		return false, err
	}
	return true, nil
}

// FeatureMembers lists the members of [features] <feature>
func (m *Model) FeatureMembers(feature string) []string {
	idx, ok := m.doc.features[feature]
	if !ok {
		return nil
	}
	it := m.doc.items[idx]
	if m.doc.src[it.valStart] != '[' {
		return nil
	}
	elems, _, err := parseArray(m.doc.src, it.valStart)
	if err != nil {
		return nil
	}
	return arrayStrings(m.doc.src, elems)
}

// AddFeatureMember appends member (e.g. "pallet-balances/std") to the
// feature's array, creating the feature or the [features] table when needed.
// It reports whether the document changed.
func (m *Model) AddFeatureMember(feature, member string) (bool, error) {
	doc := m.doc
	if idx, ok := doc.features[feature]; ok {
		it := doc.items[idx]
		if doc.src[it.valStart] != '[' {
			return false, errors.Newf("features.%s is not an array", feature)
		}
		if slices.Contains(m.FeatureMembers(feature), member) {
			return false, nil
		}
		edits, err := arrayInsert(doc.src, it.valStart, quoteBasic(member))
		if err != nil {
			return false, err
		}
		return true, m.apply(edits...)
	}

	line := formatKey(feature) + " = [" + quoteBasic(member) + "]\n"
	if t, ok := doc.tables["features"]; ok {
		return true, m.apply(m.insertAfter(t.last, line))
	}
	return true, m.apply(m.appendTable([]string{"features"}, line))
}

// RemoveFeatureMember drops member from the feature's array.
// It reports whether the document changed.
func (m *Model) RemoveFeatureMember(feature, member string) (bool, error) {
	idx := slices.Index(m.FeatureMembers(feature), member)
	if idx < 0 {
		return false, nil
	}
	it := m.doc.items[m.doc.features[feature]]
	e, err := arrayRemove(m.doc.src, it.valStart, idx)
	if err != nil {
		return false, err
	}
	return true, m.apply(e)
}

// edit replaces src[start:end] with text
type edit struct {
	start, end int
	text       string
}

// apply splices edits into the document and re-parses the result.
// The model is left untouched when the result does not parse.
func (m *Model) apply(edits ...edit) error {
	if len(edits) == 0 {
		return nil
	}
	out, err := splice(m.doc.src, edits)
	if err != nil {
		return err
	}
	doc, err := m.parse(out)
	if err != nil {
		return errors.Wrap(err, "edit produced an invalid manifest")
	}
	m.doc = doc
	return nil
}

func splice(src []byte, edits []edit) ([]byte, error) {
	sorted := slices.Clone(edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start > sorted[j].start
		}
		return sorted[i].end > sorted[j].end
	})

	nl := newline(src)
	out := slices.Clone(src)
	for i, e := range sorted {
		if e.start > e.end || e.end > len(src) {
			return nil, errors.AssertionFailedf("edit [%d,%d) out of range", e.start, e.end)
		}
		if i > 0 && e.end > sorted[i-1].start {
			return nil, errors.AssertionFailedf("overlapping edits at %d", e.start)
		}
		out = slices.Concat(out[:e.start], []byte(withNewline(e.text, nl)), out[e.end:])
	}
	return out, nil
}

// parse validates src with go-toml and indexes the managed section
func (m *Model) parse(src []byte) (*document, error) {
	var probe map[string]any
	if err := toml.Unmarshal(src, &probe); err != nil {
		return nil, errors.WithHint(newParseError(m.path, err),
			"fix the manifest by hand; it is never rewritten while it does not parse")
	}

	items, err := scanItems(src)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = m.path
		}
		return nil, err
	}

	doc := &document{
		src:      src,
		items:    items,
		entries:  make(map[string]*located),
		tables:   make(map[string]tableInfo),
		features: make(map[string]int),
	}
	if err := doc.index(m.secPath); err != nil {
		return nil, err
	}
	return doc, nil
}

// index walks the items once, tracking the current table
func (d *document) index(secPath []string) error {
	var table []string
	inArray := false

	get := func(name string, l layout) *located {
		loc, ok := d.entries[name]
		if !ok {
			loc = &located{name: name, layout: l, open: -1, close: -1}
			d.entries[name] = loc
			d.names = append(d.names, name)
		}
		return loc
	}

	for i, it := range d.items {
		switch it.kind {
		case itemHeader:
			table, inArray = it.path, it.array
			if inArray {
				continue
			}
			d.tables[joinPath(table)] = tableInfo{header: i, last: i}
			if name, ok := childOf(table, secPath); ok {
				loc := get(name, layoutTable)
				loc.items = append(loc.items, i)
			}

		case itemKeyValue:
			if inArray {
				continue
			}
			if t, ok := d.tables[joinPath(table)]; ok && table != nil {
				t.last = i
				d.tables[joinPath(table)] = t
			}

			full := slices.Concat(table, it.path)
			if len(full) == 2 && full[0] == "features" {
				d.features[full[1]] = i
			}
			if len(full) <= len(secPath) || !slices.Equal(full[:len(secPath)], secPath) {
				continue
			}

			rest := full[len(secPath):]
			raw := d.src[it.valStart:it.valEnd]
			if len(rest) == 1 {
				if err := d.indexInline(get, rest[0], i, it); err != nil {
					return err
				}
				continue
			}

			value, err := decodeValue(raw)
			if err != nil {
				return errors.Wrapf(err, "line %d", it.line)
			}
			l := layoutDotted
			if _, ok := childOf(table, secPath); ok {
				l = layoutTable
			}
			loc := get(rest[0], l)
			if loc.layout == layoutDotted && loc.prefix == nil {
				loc.prefix = it.path[:len(it.path)-len(rest)+1]
			}
			loc.items = append(loc.items, i)
			loc.fields = append(loc.fields, field{
				key:   strings.Join(rest[1:], "."),
				value: value,
				val:   span{it.valStart, it.valEnd},
				del:   span{it.start, it.end},
			})
		}
	}
	return nil
}

// indexInline records `name = "1.0"` and `name = { .. }` entries
func (d *document) indexInline(get func(string, layout) *located, name string, i int, it item) error {
	switch d.src[it.valStart] {
	case '"', '\'':
		value, err := decodeValue(d.src[it.valStart:it.valEnd])
		if err != nil {
			return errors.Wrapf(err, "line %d", it.line)
		}
		loc := get(name, layoutInline)
		loc.plain = true
		loc.items = append(loc.items, i)
		loc.fields = []field{{key: "version", value: value, val: span{it.valStart, it.valEnd}}}

	case '{':
		inline, closeAt, err := parseInlineTable(d.src, it.valStart)
		if err != nil {
			return errors.Wrapf(err, "line %d", it.line)
		}
		loc := get(name, layoutInline)
		loc.items = append(loc.items, i)
		loc.open, loc.close = it.valStart, closeAt
		for _, f := range inline {
			value, err := decodeValue(d.src[f.value.start:f.value.end])
			if err != nil {
				return errors.Wrapf(err, "line %d", it.line)
			}
			loc.fields = append(loc.fields, field{key: f.key, value: value, val: f.value})
		}
	}
	return nil
}

// mergeEdits computes the edits turning the existing entry into its merge with e
func (m *Model) mergeEdits(loc *located, e Entry) ([]edit, error) {
	want := e.pairs()
	wanted := make(map[string]bool, len(want))
	for _, p := range want {
		wanted[p.key] = true
	}

	existing := entryFromFields(loc.name, loc.fields)
	var stale []string
	switch {
	case e.Kind() != existing.Kind():
		stale = sourceKeys
	case e.Branch != "" || e.Tag != "" || e.Rev != "":
		stale = gitRefKeys
	}
	var drop []string
	for _, k := range stale {
		if !wanted[k] && loc.field(k) != nil {
			drop = append(drop, k)
		}
	}

	// Bare strings and source changes of inline tables are rewritten whole
	if loc.plain || (loc.layout == layoutInline && len(drop) > 0) {
		have := make([]pair, 0, len(loc.fields))
		for _, f := range loc.fields {
			have = append(have, pair{canonicalKey(f.key), f.value})
		}
		merged := mergePairs(have, want, drop)
		if len(drop) == 0 && pairsEqual(have, merged) {
			return nil, nil
		}
		valStart, valEnd := loc.fields[0].val.start, loc.fields[0].val.end
		if !loc.plain {
			valStart, valEnd = loc.open, loc.close+1
		}
		return []edit{{valStart, valEnd, renderPairs(merged)}}, nil
	}

	src := m.doc.src
	var edits []edit
	for _, k := range drop {
		f := loc.field(k)
		edits = append(edits, edit{f.del.start, f.del.end, ""})
	}

	var additions []pair
	for _, p := range want {
		f := loc.field(p.key)
		if f == nil {
			additions = append(additions, p)
			continue
		}
		if p.key == "features" {
			merged, added := unionFeatures(toStrings(f.value), toStrings(p.value))
			if len(added) == 0 {
				continue
			}
			if src[f.val.start] == '[' {
				members := make([]string, len(added))
				for i, a := range added {
					members[i] = quoteBasic(a)
				}
				es, err := arrayInsert(src, f.val.start, strings.Join(members, ", "))
				if err != nil {
					return nil, err
				}
				edits = append(edits, es...)
			} else {
				edits = append(edits, edit{f.val.start, f.val.end, formatValue(merged)})
			}
			continue
		}
		if valuesEqual(f.value, p.value) {
			continue
		}
		edits = append(edits, edit{f.val.start, f.val.end, formatValue(p.value)})
	}

	if len(additions) > 0 {
		edits = append(edits, m.addFields(loc, additions))
	}
	return edits, nil
}

// addFields appends new fields to an existing entry in its own layout
func (m *Model) addFields(loc *located, ps []pair) edit {
	switch loc.layout {
	case layoutInline:
		parts := make([]string, len(ps))
		for i, p := range ps {
			parts[i] = formatKey(p.key) + " = " + formatValue(p.value)
		}
		if len(loc.fields) == 0 {
			return edit{loc.open, loc.close + 1, "{ " + strings.Join(parts, ", ") + " }"}
		}
		at := loc.fields[len(loc.fields)-1].val.end
		return edit{at, at, ", " + strings.Join(parts, ", ")}

	default:
		last := loc.items[len(loc.items)-1]
		it := m.doc.items[last]
		indent := string(m.doc.src[it.start:skipBlank(m.doc.src, it.start)])
		if it.kind == itemHeader {
			indent = ""
		}
		keyPrefix := ""
		if loc.layout == layoutDotted {
			keyPrefix = joinPath(loc.prefix) + "."
		}
		var b strings.Builder
		for _, p := range ps {
			b.WriteString(indent + keyPrefix + formatKey(p.key) + " = " + formatValue(p.value) + "\n")
		}
		return m.insertAfter(last, b.String())
	}
}

// insertEntry writes a new entry after the last key of the section,
// creating the section at the end of the document when it is missing
func (m *Model) insertEntry(e Entry) edit {
	line := formatKey(e.Name) + " = " + renderPairs(e.pairs()) + "\n"
	if t, ok := m.doc.tables[joinPath(m.secPath)]; ok {
		return m.insertAfter(t.last, line)
	}
	return m.appendTable(m.secPath, line)
}

// insertAfter inserts text on the line following item idx
func (m *Model) insertAfter(idx int, text string) edit {
	at := m.doc.items[idx].end
	if at > 0 && m.doc.src[at-1] != '\n' {
		text = "\n" + text
	}
	return edit{at, at, text}
}

// appendTable adds a new [table] holding body at the end of the document
func (m *Model) appendTable(path []string, body string) edit {
	src := m.doc.src
	var b strings.Builder
	if len(src) > 0 {
		if src[len(src)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	b.WriteString("[" + joinPath(path) + "]\n")
	b.WriteString(body)
	return edit{len(src), len(src), b.String()}
}

// attachedStart walks back over comment lines directly above item idx
func (m *Model) attachedStart(idx int) int {
	for idx > 0 && m.isComment(idx-1) {
		idx--
	}
	return idx
}

func (m *Model) isComment(idx int) bool {
	it := m.doc.items[idx]
	if it.kind != itemTrivia {
		return false
	}
	p := skipBlank(m.doc.src, it.start)
	return p < it.end && m.doc.src[p] == '#'
}

func (m *Model) isBlank(idx int) bool {
	return m.doc.items[idx].kind == itemTrivia && !m.isComment(idx)
}

// mergePairs overlays want on have, dropping the keys in drop
func mergePairs(have, want []pair, drop []string) []pair {
	out := make([]pair, 0, len(have)+len(want))
	for _, p := range have {
		if !slices.Contains(drop, p.key) {
			out = append(out, p)
		}
	}
	for _, w := range want {
		i := slices.IndexFunc(out, func(p pair) bool { return p.key == w.key })
		switch {
		case i < 0:
			out = append(out, w)
		case w.key == "features":
			merged, _ := unionFeatures(toStrings(out[i].value), toStrings(w.value))
			out[i].value = merged
		default:
			out[i].value = w.value
		}
	}
	return out
}

func pairsEqual(a, b []pair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].key != b[i].key || !valuesEqual(a[i].value, b[i].value) {
			return false
		}
	}
	return true
}

// renderPairs writes a bare version string when that is all there is,
// and an inline table otherwise
func renderPairs(ps []pair) string {
	if len(ps) == 1 && ps[0].key == "version" {
		return formatValue(ps[0].value)
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = formatKey(p.key) + " = " + formatValue(p.value)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// childOf reports whether path is exactly parent plus one segment
func childOf(path, parent []string) (string, bool) {
	if len(path) != len(parent)+1 || !slices.Equal(path[:len(parent)], parent) {
		return "", false
	}
	return path[len(parent)], true
}

func joinPath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = formatKey(p)
	}
	return strings.Join(parts, ".")
}

// splitSection turns `target.'cfg(unix)'.dependencies` into key segments
func splitSection(section string) []string {
	path, _, err := parseKey([]byte(section), 0)
	if err != nil || len(path) == 0 {
		return []string{section}
	}
	return path
}
