package sh

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
)

// QuoteMode is the kind of string literal a character is in.
type QuoteMode int

// QuoteMode values.
const (
	Unquoted QuoteMode = iota
	SingleQuoted
	DoubleQuoted
)

func quoteMode(c byte) QuoteMode {
	if c == '\'' {
		return SingleQuoted
	} else if c == '"' {
		return DoubleQuoted
	}
	return Unquoted
}

// Delim returns the quote character that opens and closes the string, or zero when unquoted.
func (q QuoteMode) Delim() byte {
	switch q {
	case SingleQuoted:
		return '\''
	case DoubleQuoted:
		return '"'
	}
	return 0
}

// String returns the string representation of a QuoteMode.
func (q QuoteMode) String() string {
	switch q {
	case Unquoted:
		return "Unquoted"
	case SingleQuoted:
		return "SingleQuoted"
	case DoubleQuoted:
		return "DoubleQuoted"
	}
	return "Invalid(" + strconv.Itoa(int(q)) + ")"
}

////////////////////////////////////////////////////////////////

// State is the lexical classification of a character.
type State struct {
	Quote   QuoteMode
	Comment bool
	Heredoc bool
	Curly   int // nesting depth of ${...}
	Paren   int // nesting depth of $(...) and $((...))
}

// Lexer is a character scanner for shell scripts. For every character it reports whether it lies inside a string, comment, here-document or expansion.
// The classification is approximate: parameter and command expansions are tracked by two independent counters, so interleaved nesting is not disambiguated.
type Lexer struct {
	buf []byte
	pos int

	state        State
	escaped      bool
	terminator   []byte
	closeHeredoc bool
}

// NewLexer returns a new Lexer for a given input.
func NewLexer(r *parse.Input) *Lexer {
	return &Lexer{
		buf: r.Bytes(),
		pos: -1,
	}
}

// Next returns the next character after updating the lexical state, the state reflects the returned character.
// It returns false when the input is exhausted.
func (l *Lexer) Next() (byte, bool) {
	if l.closeHeredoc {
		l.state.Heredoc = false
		l.terminator = nil
		l.closeHeredoc = false
	}

	l.pos++
	if len(l.buf) <= l.pos {
		l.pos = len(l.buf)
		return 0, false
	}

	c := l.buf[l.pos]
	if c == '\\' {
		l.escaped = !l.escaped
		return c, true
	}
	l.shift(c)
	l.escaped = false
	return c, true
}

// Skip moves over the next n characters without classifying them. A pending escape is consumed by the skipped characters.
func (l *Lexer) Skip(n int) {
	l.pos += n
	l.escaped = false
}

func (l *Lexer) shift(c byte) {
	if c == '\n' {
		if l.state.Comment {
			l.state.Comment = false
		} else if l.state.Heredoc && bytes.Equal(l.LineBefore(), l.terminator) {
			// the newline still belongs to the here-document
			l.closeHeredoc = true
		}
		return
	} else if l.state.Comment || l.state.Heredoc {
		return
	}

	if c == '\'' || c == '"' {
		if l.state.Quote != Unquoted {
			// single quotes cannot be escaped inside single-quoted strings
			if l.state.Quote.Delim() == c && (c == '\'' || !l.escaped) {
				l.state.Quote = Unquoted
			}
		} else if !l.escaped {
			l.state.Quote = quoteMode(c)
		}
		return
	} else if l.state.Quote == SingleQuoted {
		return
	}

	switch c {
	case '#':
		if !l.InStringOrExpansion() && l.prevIn("\n\t ;") {
			l.state.Comment = true
		}
	case '{':
		if l.InCurly() {
			l.state.Curly++
		} else if l.prevIs('$') {
			l.state.Curly = 1
		}
	case '}':
		if l.InCurly() {
			l.state.Curly--
		}
	case '(':
		if l.InParen() {
			l.state.Paren++
		} else if l.prevIs('$') {
			l.state.Paren = 1
		}
	case ')':
		if l.InParen() {
			l.state.Paren--
		}
	case '<':
		// << and <<- but not the here-string <<<
		if l.prevIs('<') && !bytes.Equal(l.PrevChars(2), heredocBytes) && !l.nextIs('<') && !l.InStringOrExpansion() {
			if word := terminatorWord(l.LineAfter()); 0 < len(word) {
				l.state.Heredoc = true
				l.terminator = word
			}
		}
	}
}

// terminatorWord returns the word that closes a here-document, given the rest of the line after the << operator.
func terminatorWord(b []byte) []byte {
	if 0 < len(b) && b[0] == '-' {
		b = b[1:]
	}
	b = bytes.TrimSpace(b)
	b = bytes.ReplaceAll(b, doubleQuoteBytes, nil)
	return bytes.ReplaceAll(b, singleQuoteBytes, nil)
}

////////////////////////////////////////////////////////////////

// Pos returns the position of the current character.
func (l *Lexer) Pos() int {
	return l.pos
}

// State returns the classification of the current character.
func (l *Lexer) State() State {
	return l.state
}

// Terminator returns the word that closes the current here-document.
func (l *Lexer) Terminator() []byte {
	return l.terminator
}

// bounds returns the positions directly before and after the current character, clipped to the input.
func (l *Lexer) bounds() (int, int) {
	prev, next := l.pos, l.pos+1
	if prev < 0 {
		prev = 0
	} else if len(l.buf) < prev {
		prev = len(l.buf)
	}
	if next < 0 {
		next = 0
	} else if len(l.buf) < next {
		next = len(l.buf)
	}
	return prev, next
}

// PrevChars returns up to n characters before the current one.
func (l *Lexer) PrevChars(n int) []byte {
	end, _ := l.bounds()
	start := end - n
	if start < 0 {
		start = 0
	}
	return l.buf[start:end]
}

// NextChars returns up to n characters after the current one.
func (l *Lexer) NextChars(n int) []byte {
	_, start := l.bounds()
	end := start + n
	if len(l.buf) < end {
		end = len(l.buf)
	}
	return l.buf[start:end]
}

// PrevWord returns the run of letters directly before the current character.
func (l *Lexer) PrevWord() []byte {
	end, _ := l.bounds()
	start := end
	for 0 < start && isLetter(l.buf[start-1]) {
		start--
	}
	return l.buf[start:end]
}

// NextWord returns the run of letters directly after the current character.
func (l *Lexer) NextWord() []byte {
	_, start := l.bounds()
	end := start
	for end < len(l.buf) && isLetter(l.buf[end]) {
		end++
	}
	return l.buf[start:end]
}

// LineBefore returns the text from the start of the line up to the current character.
func (l *Lexer) LineBefore() []byte {
	end, _ := l.bounds()
	start := bytes.LastIndexByte(l.buf[:end], '\n') + 1
	return l.buf[start:end]
}

// LineAfter returns the text after the current character up to the end of the line, excluding the newline.
func (l *Lexer) LineAfter() []byte {
	_, start := l.bounds()
	end := bytes.IndexByte(l.buf[start:], '\n')
	if end == -1 {
		return l.buf[start:]
	}
	return l.buf[start : start+end]
}

func (l *Lexer) prevIs(c byte) bool {
	return 0 < l.pos && l.pos <= len(l.buf) && l.buf[l.pos-1] == c
}

func (l *Lexer) nextIs(c byte) bool {
	return l.pos+1 < len(l.buf) && l.buf[l.pos+1] == c
}

func (l *Lexer) hasNext() bool {
	return l.pos+1 < len(l.buf)
}

// prevIn returns true if the previous character is in set or if there is no previous character.
func (l *Lexer) prevIn(set string) bool {
	prev := l.PrevChars(1)
	return len(prev) == 0 || strings.IndexByte(set, prev[0]) != -1
}

// nextIn returns true if the next character is in set or if there is no next character.
func (l *Lexer) nextIn(set string) bool {
	next := l.NextChars(1)
	return len(next) == 0 || strings.IndexByte(set, next[0]) != -1
}

////////////////////////////////////////////////////////////////

// InSingleQuote returns true if the current character is inside a single-quoted string.
func (l *Lexer) InSingleQuote() bool {
	return l.state.Quote == SingleQuoted
}

// InDoubleQuote returns true if the current character is inside a double-quoted string.
func (l *Lexer) InDoubleQuote() bool {
	return l.state.Quote == DoubleQuoted
}

// InString returns true if the current character is inside a string.
func (l *Lexer) InString() bool {
	return l.state.Quote != Unquoted
}

// InComment returns true if the current character is part of a comment.
func (l *Lexer) InComment() bool {
	return l.state.Comment
}

// InHeredoc returns true if the current character is part of a here-document.
func (l *Lexer) InHeredoc() bool {
	return l.state.Heredoc
}

// InCurly returns true if the current character is inside a ${...} parameter expansion.
func (l *Lexer) InCurly() bool {
	return 0 < l.state.Curly
}

// InParen returns true if the current character is inside a $(...) command or arithmetic expansion.
func (l *Lexer) InParen() bool {
	return 0 < l.state.Paren
}

// InStringOrExpansion returns true if the current character is inside a string or an expansion.
func (l *Lexer) InStringOrExpansion() bool {
	return l.InString() || l.InCurly() || l.InParen()
}

// InStringOrExpansionOrHeredoc returns true if the current character is inside a string, an expansion or a here-document.
// Such characters must be copied verbatim.
func (l *Lexer) InStringOrExpansionOrHeredoc() bool {
	return l.InStringOrExpansion() || l.state.Heredoc
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
