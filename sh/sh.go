// Package sh minifies shell scripts written for bash and other POSIX shells.
// It removes comments, collapses whitespace and joins lines into semicolon-separated statements, while leaving strings, expansions and here-documents untouched.
package sh

import (
	"bytes"
	"io"

	"github.com/shellmin/minify"
	"github.com/tdewolff/parse/v2"
)

var (
	heredocBytes      = []byte("<<")
	doubleQuoteBytes  = []byte("\"")
	singleQuoteBytes  = []byte("'")
	continuationBytes = []byte("\\\n")
	andBytes          = []byte("&&")
	orBytes           = []byte("||")
	caseEndBytes      = []byte(";;")
	esacBytes         = []byte("esac")
	shebangBytes      = []byte("#!")
)

// keywords after which a newline separates nothing
var openerKeywords = map[string]bool{
	"then": true,
	"do":   true,
	"else": true,
	"in":   true,
}

////////////////////////////////////////////////////////////////

// DefaultMinifier is the default minifier.
var DefaultMinifier = &Minifier{}

// Minifier is a shell script minifier.
type Minifier struct {
	KeepShebang bool
}

// Minify minifies shell script data, it reads from r and writes to w.
func Minify(m *minify.M, w io.Writer, r io.Reader, params map[string]string) error {
	return DefaultMinifier.Minify(m, w, r, params)
}

// Minify minifies shell script data, it reads from r and writes to w.
func (o *Minifier) Minify(_ *minify.M, w io.Writer, r io.Reader, _ map[string]string) error {
	z := parse.NewInput(r)
	defer z.Restore()
	if err := z.Err(); err != nil && err != io.EOF {
		return err
	}

	src := z.Bytes()
	if o.KeepShebang && bytes.HasPrefix(src, shebangBytes) {
		n := bytes.IndexByte(src, '\n')
		if n == -1 {
			n = len(src)
		}
		if _, err := w.Write(src[:n]); err != nil {
			return err
		}
		src = src[n:]
		if b := compact(src); 0 < len(b) {
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return err
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := w.Write(compact(src)); err != nil {
		return err
	}
	return nil
}

// compact runs all passes in order, each pass scans the output of the previous one.
func compact(src []byte) []byte {
	src = stripComments(src)
	src = collapseWhitespace(src)
	src = separateStatements(src)
	return trimSeparators(src)
}

// stripComments removes all comments.
func stripComments(src []byte) []byte {
	z := parse.NewInputBytes(src)
	defer z.Restore()

	l := NewLexer(z)
	out := make([]byte, 0, len(src))
	for {
		c, ok := l.Next()
		if !ok {
			return out
		} else if !l.InComment() {
			out = append(out, c)
		}
	}
}

// collapseWhitespace collapses runs of spaces and tabs into one space, removes blank lines and whitespace at the start and end of lines, and joins continued lines.
func collapseWhitespace(src []byte) []byte {
	z := parse.NewInputBytes(src)
	defer z.Restore()

	l := NewLexer(z)
	out := make([]byte, 0, len(src))
	emptyLine := true // no content on the current line yet
	spaced := true    // last written character is whitespace
	for {
		c, ok := l.Next()
		if !ok {
			return out
		}

		if l.InStringOrExpansionOrHeredoc() {
			out = append(out, c)
		} else if c == '\\' && l.nextIs('\n') {
			l.Skip(1)
		} else if c == ' ' || c == '\t' {
			if !spaced && !emptyLine && !l.nextIn(" \t\n") && !bytes.Equal(l.NextChars(2), continuationBytes) {
				out = append(out, ' ')
				spaced = true
			}
		} else if c == '\n' {
			if !emptyLine && !l.prevIs('\n') {
				out = append(out, '\n')
			}
			emptyLine = true
			spaced = true
		} else {
			out = append(out, c)
			emptyLine = false
			spaced = false
		}
	}
}

// separateStatements replaces newlines by statement separators, or by a space where a separator is not allowed.
func separateStatements(src []byte) []byte {
	z := parse.NewInputBytes(src)
	defer z.Restore()

	l := NewLexer(z)
	out := make([]byte, 0, len(src))
	for {
		c, ok := l.Next()
		if !ok {
			return out
		} else if c != '\n' || l.InStringOrExpansionOrHeredoc() {
			out = append(out, c)
			continue
		}

		if l.nextIs('{') {
			// function body or block, name() directly followed by {
			if !l.prevIs(')') {
				out = append(out, ' ')
			}
		} else if openerKeywords[string(l.PrevWord())] || l.prevIs('{') || l.prevIs('(') || bytes.Equal(l.PrevChars(2), andBytes) || bytes.Equal(l.PrevChars(2), orBytes) {
			out = append(out, ' ')
		} else if bytes.Equal(l.NextWord(), esacBytes) && !bytes.Equal(l.PrevChars(2), caseEndBytes) {
			out = append(out, caseEndBytes...)
		} else if l.hasNext() && !l.prevIs(';') {
			out = append(out, ';')
		}
	}
}

// trimSeparators removes spaces and tabs around semicolons and pipes.
func trimSeparators(src []byte) []byte {
	z := parse.NewInputBytes(src)
	defer z.Restore()

	l := NewLexer(z)
	out := make([]byte, 0, len(src))
	for {
		c, ok := l.Next()
		if !ok {
			return out
		} else if !l.InStringOrExpansionOrHeredoc() && (c == ' ' || c == '\t') && (l.prevIn(";|") || l.nextIn(";|")) {
			continue
		}
		out = append(out, c)
	}
}
