// Package cparse implements the C-family parser of spec.md's
// component C7: it drives a ctoken.Tokenizer, keeps the per-file
// nesting state the spec's state machine describes, and emits
// definition/reference events for C, C++, and Yacc source.
package cparse

import (
	"fmt"
	"strings"

	"github.com/gtagsdb/gtags/internal/ctoken"
	"github.com/gtagsdb/gtags/internal/glog"
	"github.com/gtagsdb/gtags/internal/ptree"
)

// Kind distinguishes a definition from a reference occurrence.
type Kind int

const (
	DEF Kind = iota
	REF
)

func (k Kind) String() string {
	if k == DEF {
		return "DEF"
	}
	return "REF"
}

// Event is one tag occurrence the driver hands to C4 (internal/gtop),
// which attaches the fid and looks up the line image itself from the
// file currently being parsed.
type Event struct {
	Kind Kind
	Name string
	Line int
}

// Loader reads a source file's bytes, keyed by the same path strings
// C5 (internal/ptree) produces ("./..." relative paths). Used to pull
// in an #include'd header's bytes before it is pre-parsed.
type Loader func(path string) ([]byte, error)

// Resolver looks up #include "header" targets and tracks per-file
// parse state so mutually-including headers terminate (spec §4.5,
// §9). *ptree.IncludeTracker satisfies this.
type Resolver interface {
	Resolve(basename string) (path string, ok bool)
	State(path string) ptree.ParseState
	SetState(path string, s ptree.ParseState)
}

// Options configures a Parser.
type Options struct {
	// ForceEndBlock toggles GTAGSFORCEENDBLOCK: a '}' at column 0 ends
	// every enclosing block (brace level back to 0, class stack
	// cleared) even if nesting appears unbalanced. Namespace and
	// extern "C" braces are counted separately and are not affected. Read once
	// by the driver at startup (spec §6), never re-read per token.
	ForceEndBlock bool
	Yacc          bool
	Warn          bool // gate for ParseWarning logging (spec §7)
	MaxSymbolLen  int  // 0 disables the check

	// ExtractMethod mirrors gtop's EXTRACT_METHOD flag for naming
	// symmetry only; method-name splitting itself happens in gtop.Put,
	// not here. cparse emits the bare method name for an out-of-line
	// definition such as "void A::m() {}" (DEF m); function definitions
	// are only recognized at brace level 0, where the class stack is
	// empty, so no Class:: prefix is added.
	ExtractMethod bool

	// Resolver + Loader enable #include "x" pre-parsing (spec §4.7).
	// Both nil disables it; #include lines are then just skipped.
	Resolver Resolver
	Loader   Loader
}

const defaultMaxSymbolLen = 8192

// reserved C/C++ keywords the state machine special-cases. Everything
// else lexes as a plain ctoken.SYMBOL.
const (
	kwStruct ctoken.TokenType = 2000 + iota
	kwUnion
	kwEnum
	kwTypedef
	kwUsing
	kwNamespace
	kwTemplate
	kwOperator
	kwClass
	kwExternKw
	kwFinal
	kwAttribute
)

var keywords = map[string]ctoken.TokenType{
	"struct":        kwStruct,
	"union":         kwUnion,
	"enum":          kwEnum,
	"typedef":       kwTypedef,
	"using":         kwUsing,
	"namespace":     kwNamespace,
	"template":      kwTemplate,
	"operator":      kwOperator,
	"class":         kwClass,
	"extern":        kwExternKw,
	"final":         kwFinal,
	"__attribute__": kwAttribute,
}

func reservedWord(text string) (ctoken.TokenType, bool) {
	tt, ok := keywords[text]
	return tt, ok
}

// typeQualifiers are skipped by the typedef sub-parser on its way to
// the aliased name (spec §4.7: "skips CV/type qualifiers").
var typeQualifiers = map[string]bool{
	"const": true, "volatile": true, "unsigned": true, "signed": true,
	"short": true, "long": true, "static": true, "inline": true,
	"register": true, "restrict": true, "_Atomic": true,
}

// skipWords are identifiers the function-definition lookahead treats
// as noise rather than part of the declaration shape. __THROW is
// glibc's exception-specifier decoration; kept as a hardcoded wart
// per spec §9, not explained away.
var skipWords = map[string]bool{
	"__THROW": true,
}

// yaccSection tracks which of a .y file's three sections the parser
// is in (spec §4.7's "Yacc section" per-file state).
type yaccSection int

const (
	yaccDeclarations yaccSection = iota
	yaccRules
	yaccPrograms
)

// ifEntry is one frame of the #if/#ifdef/#ifndef conditional stack
// (spec §4.7). Only live (not skipped-as-dead) regions ever push one;
// see handleIfOpen.
type ifEntry struct {
	startLevel int
	endLevel   int
}

// frame holds the per-file state of spec §4.7 ("state per file"). A
// new frame is pushed for the file a #include pre-parses and popped
// when that file reaches EOF, so nesting state never leaks across
// files the way a single set of globals would (spec §9's "replace
// global mutable state with explicit context values").
type frame struct {
	tok  *ctoken.Tokenizer
	path string
	fid  uint32

	braceLevel int
	ifStack    []ifEntry
	externDepth int // extern "C" / namespace depth; spec §9: tracked separately, does not affect braceLevel
	// expectNamespaceBody is set right after a `namespace X` or
	// `extern "C"` header so the next '{' is attributed to externDepth
	// instead of braceLevel.
	expectNamespaceBody bool
	namespaceBraceKind  []bool // true = this '{' was a namespace/extern-C body opener

	classStack []classFrame

	yacc     yaccSection
	inDefine bool
}

// classFrame is one entry of the class-name stack (spec §4.7, C++
// only): name is the class/struct being defined, level is the brace
// level its body runs at (fr.braceLevel right after the body's '{' is
// consumed), so handleCloseBrace knows exactly which '}' pops it.
type classFrame struct {
	name  string
	level int
}

// Parser drives one top-level parse, threading an explicit stack of
// frames instead of file-scope globals (spec §9).
type Parser struct {
	opts  Options
	emit  func(Event)
	stack []*frame
}

// New creates a Parser that calls emit for every tag event produced
// while parsing. emit is called synchronously from ParseFile.
func New(opts Options, emit func(Event)) *Parser {
	if opts.MaxSymbolLen == 0 {
		opts.MaxSymbolLen = defaultMaxSymbolLen
	}
	return &Parser{opts: opts, emit: emit}
}

// ParseFile parses one source file's bytes, fid is recorded on events
// via the caller's own bookkeeping (Event carries no Fid field; the
// caller, typically internal/build, already knows which fid it is
// currently flushing records for).
func (p *Parser) ParseFile(path string, fid uint32, src []byte) {
	fr := &frame{
		tok:  ctoken.New(src, p.opts.Yacc),
		path: path,
		fid:  fid,
	}
	p.stack = append(p.stack, fr)
	p.run()
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *Parser) top() *frame { return p.stack[len(p.stack)-1] }

func (p *Parser) warnf(format string, args ...any) {
	if !p.opts.Warn {
		return
	}
	glog.With("path", p.top().path).Warn(fmt.Sprintf(format, args...))
}

func (p *Parser) emitDef(name string, line int) {
	if !validSymbol(name, p.opts.MaxSymbolLen) {
		p.warnf("malformed symbol %q at line %d dropped", name, line)
		return
	}
	p.emit(Event{Kind: DEF, Name: name, Line: line})
}

func (p *Parser) emitRef(name string, line int) {
	if !validSymbol(name, p.opts.MaxSymbolLen) {
		p.warnf("malformed symbol %q at line %d dropped", name, line)
		return
	}
	p.emit(Event{Kind: REF, Name: name, Line: line})
}

func validSymbol(name string, maxLen int) bool {
	if name == "" || len(name) > maxLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == ' ' || name[i] == '\t' || name[i] == '\n' {
			return false
		}
	}
	return true
}

// qualifiedName returns name prefixed by the current class stack, the
// same "Class::method" form GNU Global's own output uses for a C++
// method definition (spec §4.7).
func (p *Parser) qualifiedName(fr *frame, name string) string {
	if len(fr.classStack) == 0 {
		return name
	}
	return fr.classStack[len(fr.classStack)-1].name + "::" + name
}

// run drives fr (the top frame) to EOF, emitting tag events along the
// way. It is the top-level per-token dispatch of spec §4.7.
func (p *Parser) run() {
	fr := p.top()
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			if len(fr.ifStack) > 0 {
				p.warnf("unbalanced #if/#endif at EOF")
			}
			if fr.braceLevel != 0 {
				p.warnf("unbalanced braces at EOF")
			}
			return

		case ctoken.NEWLINE:
			// only surfaces when crFlag is set (macro-body scanning)

		case TokenType('{'):
			p.handleOpenBrace(fr)

		case TokenType('}'):
			p.handleCloseBrace(fr)

		case ctoken.SYMBOL:
			p.handleSymbol(fr, tok)

		case kwStruct, kwUnion, kwEnum:
			p.handleStructUnionEnum(fr, tok)

		case kwAttribute:
			p.handleAttribute(fr)

		case kwTypedef:
			p.handleTypedef(fr)

		case kwUsing:
			p.handleUsing(fr)

		case kwNamespace:
			p.handleNamespace(fr)

		case kwExternKw:
			p.handleExtern(fr)

		case kwTemplate:
			p.handleTemplate(fr)

		case kwOperator:
			p.handleOperator(fr)

		case kwClass:
			p.handleClass(fr)

		case ctoken.SharpDefine:
			p.handleDefine(fr)

		case ctoken.SharpUndef:
			p.handleUndef(fr)

		case ctoken.SharpIf, ctoken.SharpIfdef, ctoken.SharpIfndef:
			p.handleIfOpen(fr, tok)

		case ctoken.SharpElif, ctoken.SharpElse:
			p.handleIfElse(fr, tok)

		case ctoken.SharpEndif:
			p.handleEndif(fr)

		case ctoken.SharpInclude:
			p.handleInclude(fr)

		case ctoken.SharpOther:
			// unrecognized directive (#pragma, #error, ...): drain the
			// rest of the line and move on.
			p.skipToNewline(fr)

		case ctoken.YaccSep:
			p.handleYaccSep(fr)

		case ctoken.YaccBegin, ctoken.YaccEnd, ctoken.YaccUnion:
			// declarations-section escape hatches; no tag events of
			// their own, handled like ordinary C inside.

		default:
			// plain punctuation: nothing to do.
		}
	}
}

// handleOpenBrace increments braceLevel unless this '{' opens a
// namespace/extern "C" body, in which case it is absorbed into
// externDepth instead (spec §4.7, §9: "does not affect brace level").
func (p *Parser) handleOpenBrace(fr *frame) {
	if fr.expectNamespaceBody {
		fr.expectNamespaceBody = false
		fr.externDepth++
		fr.namespaceBraceKind = append(fr.namespaceBraceKind, true)
		return
	}
	fr.namespaceBraceKind = append(fr.namespaceBraceKind, false)
	fr.braceLevel++
}

func (p *Parser) handleCloseBrace(fr *frame) {
	isNamespace := false
	if n := len(fr.namespaceBraceKind); n > 0 {
		isNamespace = fr.namespaceBraceKind[n-1]
		fr.namespaceBraceKind = fr.namespaceBraceKind[:n-1]
	}
	if isNamespace {
		if fr.externDepth > 0 {
			fr.externDepth--
		}
		return
	}
	if fr.braceLevel > 0 {
		fr.braceLevel--
	} else {
		p.warnf("unbalanced '}'")
	}
	if n := len(fr.classStack); n > 0 && fr.classStack[n-1].level == fr.braceLevel+1 {
		fr.classStack = fr.classStack[:n-1]
	}
	if p.opts.ForceEndBlock && fr.tok.LastTokenAtColumnZero() {
		if fr.braceLevel != 0 {
			p.warnf("'}' at column 0 forces brace level 0 (was %d)", fr.braceLevel)
			fr.braceLevel = 0
		}
		fr.classStack = fr.classStack[:0]
	}
}

// handleSymbol is the dispatch spec §4.7 describes for a bare SYMBOL
// token: if it is immediately followed by '(' at brace level 0 and
// outside a #define body, it drives the function-definition
// sub-parser; otherwise it is left alone (a plain reference elsewhere
// in an expression is not itself tagged by this simplified core,
// matching spec §4.7's description of what actually triggers a tag
// event). The brace-level-0 gate also means a class/struct body's
// own member declarations are not individually tagged, the same as
// any other nested block; only a qualified out-of-line definition
// ("Class::method() {}") at file scope is.
func (p *Parser) handleSymbol(fr *frame, tok ctoken.Token) {
	if fr.braceLevel == 0 && !fr.inDefine && fr.tok.PeekChar(true) == '(' {
		p.parseFunctionHeader(fr, tok.Text, tok.Line)
		return
	}
}

// parseFunctionHeader implements the "is this a function definition?"
// sub-parser of spec §4.7: walk the argument list (picking up
// parameter-name references), then look ahead past attributes and
// preprocessor conditionals for '{' (definition) or ';'/','/'=' (decl).
func (p *Parser) parseFunctionHeader(fr *frame, name string, line int) {
	// consume the '('
	fr.tok.NextToken("", reservedWord)

	if name == "SCM_DEFINE" {
		if inner, ok := p.firstParenIdent(fr); ok && inner != "" {
			p.emitDef(inner, line)
			p.skipBalancedParens(fr, 1)
			p.skipLookaheadToTerminator(fr)
			return
		}
	}

	p.walkArgList(fr)

	switch p.lookaheadDeclOrDef(fr) {
	case '{':
		if name == topClass(fr) {
			// constructor: spec §4.7 "suppresses DEF when the symbol
			// equals the current class name" (considered a reference
			// to the class instead).
			p.emitRef(name, line)
			return
		}
		p.emitDef(p.qualifiedName(fr, name), line)
	case ';', ',', '=':
		if name == topClass(fr) {
			p.emitRef(name, line)
			return
		}
		p.emitRef(p.qualifiedName(fr, name), line)
	default:
		// EOF or something unparseable: drop silently, matching
		// spec §4.7's "unrecoverable end-of-file ... ends the file
		// cleanly."
	}
}

func topClass(fr *frame) string {
	if len(fr.classStack) == 0 {
		return ""
	}
	return fr.classStack[len(fr.classStack)-1].name
}

// firstParenIdent peeks whether the argument list's first element is
// a bare identifier (SCM_DEFINE's own name argument) without
// consuming the whole list.
func (p *Parser) firstParenIdent(fr *frame) (string, bool) {
	tok := fr.tok.NextToken(",)", reservedWord)
	if tok.Type == ctoken.SYMBOL {
		return tok.Text, true
	}
	fr.tok.PushbackToken(tok)
	return "", false
}

// walkArgList consumes tokens up to and including the matching ')'
// (depth starts at 1 since the caller already consumed the opening
// '('), emitting a REF for every
// identifier encountered (an approximation of "picking up
// parameter-name references" that also catches type names, which
// spec §4.7 does not forbid but does not require excluding either).
func (p *Parser) walkArgList(fr *frame) {
	depth := 1
	for depth > 0 {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('('):
			depth++
		case TokenType(')'):
			depth--
		case ctoken.SYMBOL:
			if depth == 1 && !skipWords[tok.Text] {
				p.emitRef(tok.Text, tok.Line)
			}
		}
	}
}

// handleAttribute skips a GCC "__attribute__((...))" decoration,
// emitting a REF for any identifier found inside (GNU Global's
// process_attribute, applied identically by both its C and C++
// parsers): the argument to an attribute like
// "__attribute__((deprecated))" is still a symbol worth tagging.
func (p *Parser) handleAttribute(fr *frame) {
	depth := 0
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('('):
			depth++
		case TokenType(')'):
			depth--
		case ctoken.SYMBOL:
			p.emitRef(tok.Text, tok.Line)
		}
		if depth == 0 {
			return
		}
	}
}

func (p *Parser) skipBalancedParens(fr *frame, depth int) {
	for depth > 0 {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('('):
			depth++
		case TokenType(')'):
			depth--
		}
	}
}

func (p *Parser) skipLookaheadToTerminator(fr *frame) {
	p.lookaheadDeclOrDef(fr)
}

// lookaheadDeclOrDef scans past attributes, __attribute__ calls, and
// preprocessor conditionals (spec §4.7) to find the token that
// decides definition vs declaration, returning '{' , ';', ',', '=', or
// 0 on EOF.
func (p *Parser) lookaheadDeclOrDef(fr *frame) byte {
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return 0
		case TokenType('{'):
			// this '{' is the function body's real opening brace; it
			// must be accounted for in fr.braceLevel like any other.
			p.handleOpenBrace(fr)
			return '{'
		case TokenType(';'):
			return ';'
		case TokenType(','):
			return ','
		case TokenType('='):
			return '='
		case kwAttribute:
			p.handleAttribute(fr)
		case ctoken.SYMBOL:
			if skipWords[tok.Text] {
				continue
			}
			// any other bare identifier in the gap (e.g. a const
			// qualifier trailing the parameter list) is noise here.
		case ctoken.SharpIf, ctoken.SharpIfdef, ctoken.SharpIfndef,
			ctoken.SharpElse, ctoken.SharpElif, ctoken.SharpEndif, ctoken.SharpOther:
			// a conditional straddling the declarator and its body;
			// skip the directive line and keep looking.
			p.skipToNewline(fr)
		default:
			// punctuation noise (e.g. 'const' keyword tokens aren't
			// reserved here, so they lex as SYMBOL and are handled
			// above); anything else just keeps scanning.
		}
	}
}

// handleStructUnionEnum implements spec §4.7's struct/union/enum rule:
// KW IDENT '{' -> DEF(IDENT); KW IDENT <anything else> -> REF(IDENT).
// An enum body is additionally walked for its enumerator list. A named
// struct (not a union) also pushes the class-name stack (spec §4.7's C++
// extras): C++ gives struct the same member-function and constructor
// rules as class, so "struct A { A(); }; void A::m() {}" needs the
// same qualified-name and constructor-suppression handling a "class A"
// would get.
func (p *Parser) handleStructUnionEnum(fr *frame, kw ctoken.Token) {
	// GCC's placement attribute, e.g. "struct __attribute__((packed))
	// foo { ... }", sits between the keyword and the name; drain any
	// number of them before looking for an identifier.
	for {
		next := fr.tok.NextToken("", reservedWord)
		if next.Type != kwAttribute {
			fr.tok.PushbackToken(next)
			break
		}
		p.handleAttribute(fr)
	}

	name, nameLine, hasName := p.peekOptionalIdent(fr)

	next := fr.tok.NextToken("", reservedWord)
	if next.Type == TokenType('{') {
		if hasName {
			p.emitDef(name, nameLine)
		}
		if kw.Type == kwEnum {
			p.walkEnumBody(fr)
			return
		}
		// struct/union body: the '{' token was already consumed above,
		// so account for it directly.
		p.handleOpenBrace(fr)
		if hasName && kw.Type != kwUnion {
			fr.classStack = append(fr.classStack, classFrame{name: name, level: fr.braceLevel})
		}
		return
	}
	fr.tok.PushbackToken(next)
	if hasName {
		p.emitRef(name, nameLine)
	}
}

// peekOptionalIdent consumes a following bare identifier, if any,
// without consuming whatever comes after it.
func (p *Parser) peekOptionalIdent(fr *frame) (name string, line int, ok bool) {
	tok := fr.tok.NextToken("", reservedWord)
	if tok.Type == ctoken.SYMBOL {
		return tok.Text, tok.Line, true
	}
	fr.tok.PushbackToken(tok)
	return "", 0, false
}

// walkEnumBody emits DEF for each enumerator identifier and REF for
// any identifier found inside its optional '= expression' (spec
// §4.7). The caller has already consumed the opening '{'.
func (p *Parser) walkEnumBody(fr *frame) {
	depth := 1
	expectEnumerator := true
	inExpr := false
	for depth > 0 {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('{'):
			depth++
		case TokenType('}'):
			depth--
		case TokenType(','):
			if depth == 1 {
				expectEnumerator = true
				inExpr = false
			}
		case TokenType('='):
			if depth == 1 {
				inExpr = true
			}
		case ctoken.SYMBOL:
			if depth != 1 {
				continue
			}
			if expectEnumerator && !inExpr {
				p.emitDef(tok.Text, tok.Line)
				expectEnumerator = false
			} else if inExpr {
				p.emitRef(tok.Text, tok.Line)
			}
		}
	}
}

// handleTypedef implements spec §4.7's typedef sub-parser.
func (p *Parser) handleTypedef(fr *frame) {
	startBrace := fr.braceLevel

	// skip CV/type qualifiers.
	for {
		tok := fr.tok.NextToken("", reservedWord)
		if tok.Type == ctoken.SYMBOL && typeQualifiers[tok.Text] {
			continue
		}
		fr.tok.PushbackToken(tok)
		break
	}

	// optional struct/union/enum prefix, handled with the same rules
	// as a bare occurrence.
	next := fr.tok.NextToken("", reservedWord)
	switch next.Type {
	case kwStruct, kwUnion, kwEnum:
		p.handleStructUnionEnum(fr, next)
	default:
		fr.tok.PushbackToken(next)
	}

	// scan to the terminating ';' at startBrace, emitting DEF for the
	// last identifier before each ',' or the final ';' when at the
	// initial nesting, REF for any identifier seen at deeper nesting
	// — either a parenthesized/bracketed declarator (a function-pointer
	// typedef's parameter names) or still inside a struct/union/enum
	// body a nested call into handleStructUnionEnum left partially
	// consumed (spec §4.7).
	parenDepth := 0
	var lastIdent string
	var lastLine int
	haveIdent := false
	atTop := func() bool { return parenDepth == 0 && fr.braceLevel == startBrace }
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('('), TokenType('['):
			parenDepth++
		case TokenType(')'), TokenType(']'):
			parenDepth--
		case TokenType('{'):
			p.handleOpenBrace(fr)
		case TokenType('}'):
			p.handleCloseBrace(fr)
		case ctoken.SYMBOL:
			if atTop() {
				lastIdent, lastLine, haveIdent = tok.Text, tok.Line, true
			} else {
				p.emitRef(tok.Text, tok.Line)
			}
		case TokenType(','):
			if atTop() && haveIdent {
				p.emitDef(lastIdent, lastLine)
				haveIdent = false
			}
		case TokenType(';'):
			if atTop() {
				if haveIdent {
					p.emitDef(lastIdent, lastLine)
				}
				return
			}
		}
	}
}

// handleDefine implements "#define NAME" / "#define NAME(...)" (spec
// §4.7): DEF for NAME, REF for macro arguments, then the remainder of
// the macro body is scanned with the tokenizer's CR flag on so the
// terminating (possibly continued) line is detected.
func (p *Parser) handleDefine(fr *frame) {
	tok := fr.tok.NextToken("", reservedWord)
	if tok.Type != ctoken.SYMBOL {
		p.skipToNewline(fr)
		return
	}
	p.emitDef(tok.Text, tok.Line)

	fr.inDefine = true
	defer func() { fr.inDefine = false }()

	if fr.tok.PeekChar(true) == '(' {
		fr.tok.NextToken("", reservedWord) // '('
		depth := 1
		for depth > 0 {
			a := fr.tok.NextToken(",)", reservedWord)
			switch a.Type {
			case ctoken.EOF:
				return
			case TokenType('('):
				depth++
			case TokenType(')'):
				depth--
			case ctoken.SYMBOL:
				p.emitRef(a.Text, a.Line)
			}
		}
	}
	p.skipToNewline(fr)
}

func (p *Parser) handleUndef(fr *frame) {
	tok := fr.tok.NextToken("", reservedWord)
	if tok.Type == ctoken.SYMBOL {
		p.emitDef(tok.Text, tok.Line)
	}
	p.skipToNewline(fr)
}

// skipToNewline drains the rest of a directive line using the
// tokenizer's CR flag, matching backslash-continuation transparently
// (ctoken already treats '\\\n' as whitespace).
func (p *Parser) skipToNewline(fr *frame) {
	fr.tok.SetCRFlag(true)
	defer fr.tok.SetCRFlag(false)
	for {
		tok := fr.tok.NextToken("", reservedWord)
		if tok.Type == ctoken.NEWLINE || tok.Type == ctoken.EOF {
			return
		}
	}
}

// handleIfOpen implements #if/#ifdef/#ifndef (spec §4.7). When the
// condition is the literal-false form spec §4.7 calls out ("#if 0" or
// "#if notdef"), the entire region up to the matching #else/#endif is
// not parsed at all — no DEF/REF events, no brace-level changes —
// which is what "emits no DEF dead and no change to brace level on
// exit" (spec §8 scenario 4) actually requires; restoring the brace
// level after the fact would only patch up a count, not suppress the
// tag events dead code must never produce. Anything else pushes a
// normal conditional frame and is parsed like ordinary code.
func (p *Parser) handleIfOpen(fr *frame, tok ctoken.Token) {
	if tok.Type == ctoken.SharpIf {
		cond := strings.TrimSpace(p.restOfLine(fr))
		if cond == "0" || cond == "notdef" {
			startLevel := fr.braceLevel
			if sawElse := p.skipDeadRegion(fr); sawElse {
				fr.ifStack = append(fr.ifStack, ifEntry{startLevel: startLevel})
			}
			return
		}
	} else {
		p.skipToNewline(fr)
	}
	fr.ifStack = append(fr.ifStack, ifEntry{startLevel: fr.braceLevel})
}

// skipDeadRegion discards tokens without interpreting them until the
// matching #endif (returns false) or a same-level #else/#elif
// (returns true, handing control back to run() to parse the live
// branch normally). Nested #if/#ifdef/#ifndef are tracked only for
// their depth, never re-evaluated.
func (p *Parser) skipDeadRegion(fr *frame) bool {
	depth := 1
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return false
		case ctoken.SharpIf, ctoken.SharpIfdef, ctoken.SharpIfndef:
			p.skipToNewline(fr)
			depth++
		case ctoken.SharpElse, ctoken.SharpElif:
			p.skipToNewline(fr)
			if depth == 1 {
				return true
			}
		case ctoken.SharpEndif:
			p.skipToNewline(fr)
			depth--
			if depth == 0 {
				return false
			}
		}
	}
}

func (p *Parser) restOfLine(fr *frame) string {
	fr.tok.SetCRFlag(true)
	defer fr.tok.SetCRFlag(false)
	var sb strings.Builder
	for {
		tok := fr.tok.NextToken("", reservedWord)
		if tok.Type == ctoken.NEWLINE || tok.Type == ctoken.EOF {
			return sb.String()
		}
		text := tok.Text
		if text == "" && tok.Type >= 0 && tok.Type < 256 {
			// punctuation and digits carry no Text; use the byte itself
			// so that "#if 0" yields the condition "0".
			text = string(rune(tok.Type))
		}
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
	}
}

// handleIfElse implements #else/#elif: spec §4.7 says a mismatched
// arm warns "uneven level" and resets the brace level to the #if's
// start level (defensive against code only syntactically balanced
// under one preprocessor arm).
func (p *Parser) handleIfElse(fr *frame, tok ctoken.Token) {
	p.skipToNewline(fr)
	if len(fr.ifStack) == 0 {
		p.warnf("#else/#elif with no matching #if")
		return
	}
	top := &fr.ifStack[len(fr.ifStack)-1]
	if fr.braceLevel != top.startLevel {
		p.warnf("uneven level at #else/#elif")
		fr.braceLevel = top.startLevel
	}
	top.endLevel = fr.braceLevel
}

// handleEndif pops the conditional stack. The #if-0 defensive brace
// restore of spec §4.7 is handled up front by skipDeadRegion instead
// (see handleIfOpen); by the time a live #endif reaches here, its
// #if's body was parsed as ordinary code and any imbalance it leaves
// behind is a genuine ParseWarning, not something to paper over.
func (p *Parser) handleEndif(fr *frame) {
	p.skipToNewline(fr)
	if len(fr.ifStack) == 0 {
		p.warnf("#endif with no matching #if")
		return
	}
	n := len(fr.ifStack) - 1
	fr.ifStack = fr.ifStack[:n]
}

// handleInclude pre-parses an #include "x" (or <x>) target through
// the shared Resolver/Loader, per spec §4.7 and the cycle-safe
// memoization design note of §9. The target is read with
// ReadAngleOrQuoted rather than the ordinary token stream: a quoted
// header name would otherwise be silently elided whole by the
// tokenizer's string-literal handling before a SYMBOL token ever saw
// it. Without a configured Resolver the directive is simply skipped
// (no header pre-parsing available).
func (p *Parser) handleInclude(fr *frame) {
	target, _, ok := fr.tok.ReadAngleOrQuoted()
	p.skipToNewline(fr)
	if p.opts.Resolver == nil || p.opts.Loader == nil {
		return
	}
	if !ok || target == "" {
		return
	}
	basename := lastPathElem(target)

	path, ok := p.opts.Resolver.Resolve(basename)
	if !ok {
		return
	}
	if p.opts.Resolver.State(path) != ptree.StateNew {
		return // already pending (cycle) or done
	}
	p.opts.Resolver.SetState(path, ptree.StatePending)

	src, err := p.opts.Loader(path)
	if err != nil {
		p.warnf("cannot read included file %s: %v", path, err)
		p.opts.Resolver.SetState(path, ptree.StateDone)
		return
	}

	child := &frame{tok: ctoken.New(src, p.opts.Yacc), path: path, fid: fr.fid}
	p.stack = append(p.stack, child)
	p.run()
	p.stack = p.stack[:len(p.stack)-1]

	p.opts.Resolver.SetState(path, ptree.StateDone)
}

func lastPathElem(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// handleUsing implements the C++ extras of spec §4.7: "using namespace
// X" -> REF(X); "using X = ..." -> DEF(X).
func (p *Parser) handleUsing(fr *frame) {
	tok := fr.tok.NextToken("", reservedWord)
	if tok.Type == kwNamespace {
		id := fr.tok.NextToken("", reservedWord)
		if id.Type == ctoken.SYMBOL {
			p.emitRef(id.Text, id.Line)
		}
		p.skipToSemicolon(fr)
		return
	}
	if tok.Type == ctoken.SYMBOL {
		next := fr.tok.NextToken("", reservedWord)
		if next.Type == TokenType('=') {
			p.emitDef(tok.Text, tok.Line)
		}
		fr.tok.PushbackToken(next)
	}
	p.skipToSemicolon(fr)
}

// handleNamespace implements "namespace X { }" -> DEF(X), with the
// body tracked via externDepth rather than braceLevel (spec §4.7,
// §9).
func (p *Parser) handleNamespace(fr *frame) {
	id := fr.tok.NextToken("", reservedWord)
	if id.Type == ctoken.SYMBOL {
		p.emitDef(id.Text, id.Line)
	} else {
		fr.tok.PushbackToken(id)
	}
	fr.expectNamespaceBody = true
}

// handleExtern implements extern "C" { ... }, tracked the same way as
// a namespace body (spec §9's preserved open question).
func (p *Parser) handleExtern(fr *frame) {
	if lang, ok := fr.tok.TryReadQuoted(); ok && lang == "C" {
		fr.expectNamespaceBody = true
		return
	}
	// plain 'extern int x;' style declaration: nothing further to do,
	// the declarator itself is handled by the ordinary symbol path.
}

// handleTemplate implements "template <...> " : the angle-bracket
// parameter list's identifiers are collected as REF (spec §4.7); the
// declaration the template applies to is left to the normal dispatch
// that follows.
func (p *Parser) handleTemplate(fr *frame) {
	if fr.tok.PeekChar(false) != '<' {
		return
	}
	fr.tok.NextToken("", reservedWord) // '<'
	depth := 1
	for depth > 0 {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('<'):
			depth++
		case TokenType('>'):
			depth--
		case ctoken.SYMBOL:
			if tok.Text != "typename" && tok.Text != "class" {
				p.emitRef(tok.Text, tok.Line)
			}
		}
	}
}

// handleOperator consumes "operator<op>" up to ';' or '{' (spec §4.7):
// the overload name itself is not tagged by this simplified core.
func (p *Parser) handleOperator(fr *frame) {
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType(';'):
			return
		case TokenType('{'):
			p.handleOpenBrace(fr)
			return
		}
	}
}

// handleClass implements "class X [template-list] [final] : {" ->
// DEF(X), pushing X onto the class stack (spec §4.7). handleStructUnionEnum
// handles the `struct`/`union` spelling of the same construct and
// pushes the same stack for a named struct, since C++ gives struct
// the identical member-function rules.
func (p *Parser) handleClass(fr *frame) {
	id := fr.tok.NextToken("", reservedWord)
	if id.Type != ctoken.SYMBOL {
		fr.tok.PushbackToken(id)
		return
	}
	name, line := id.Text, id.Line

	// optional template argument list, 'final', then ':' or '{'.
	for {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case TokenType('<'):
			p.skipAngleList(fr)
		case kwFinal:
			continue
		case TokenType(':'):
			p.skipToOpenBrace(fr)
			p.emitDef(name, line)
			// skipToOpenBrace leaves the '{' itself for run()'s normal
			// dispatch to consume and account for in fr.braceLevel, so
			// the pushed level is the level that '{' is about to reach.
			fr.classStack = append(fr.classStack, classFrame{name: name, level: fr.braceLevel + 1})
			return
		case TokenType('{'):
			p.emitDef(name, line)
			p.handleOpenBrace(fr)
			fr.classStack = append(fr.classStack, classFrame{name: name, level: fr.braceLevel})
			return
		case ctoken.EOF:
			return
		default:
			// forward declaration ('class X;') counts as a reference
			// to the name; any other token ends the construct with
			// nothing emitted.
			if tok.Type == TokenType(';') {
				p.emitRef(name, line)
			}
			return
		}
	}
}

func (p *Parser) skipAngleList(fr *frame) {
	depth := 1
	for depth > 0 {
		tok := fr.tok.NextToken("", reservedWord)
		switch tok.Type {
		case ctoken.EOF:
			return
		case TokenType('<'):
			depth++
		case TokenType('>'):
			depth--
		}
	}
}

func (p *Parser) skipToOpenBrace(fr *frame) {
	for {
		tok := fr.tok.NextToken("", reservedWord)
		if tok.Type == TokenType('{') || tok.Type == ctoken.EOF {
			if tok.Type == TokenType('{') {
				fr.tok.PushbackToken(tok)
			}
			return
		}
	}
}

func (p *Parser) skipToSemicolon(fr *frame) {
	for {
		tok := fr.tok.NextToken("", reservedWord)
		if tok.Type == TokenType(';') || tok.Type == ctoken.EOF {
			return
		}
	}
}

// handleYaccSep advances the .y file's section state machine (spec
// §4.7's Yacc section field): declarations -> rules on the first
// separator, rules -> programs on the second.
func (p *Parser) handleYaccSep(fr *frame) {
	switch fr.yacc {
	case yaccDeclarations:
		fr.yacc = yaccRules
	case yaccRules:
		fr.yacc = yaccPrograms
	}
}

// TokenType is a local alias so the switch statements above can use
// byte-valued punctuation tokens without importing ctoken.TokenType
// at every call site.
type TokenType = ctoken.TokenType
