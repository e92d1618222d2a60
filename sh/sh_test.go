package sh

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"testing"

	"github.com/shellmin/minify"
	"github.com/tdewolff/test"
)

var shTests = []struct {
	sh       string
	expected string
}{
	{"", ""},
	{"# only a comment\n\n", ""},
	{"echo \"# not a comment\"", "echo \"# not a comment\""},
	{"echo 'a  #  b'", "echo 'a  #  b'"},
	{"cat <<EOF\n  keep   this    spacing\nEOF\n", "cat <<EOF\n  keep   this    spacing\nEOF\n"},
	{"cat <<EOF\nhi  there\nEOF\necho   done\n", "cat <<EOF\nhi  there\nEOF\necho done"},
	{"echo foo\\\nbar", "echo foobar"},
	{"echo \"a\\\nb\"", "echo \"a\\\nb\""},
	{"case $x in\na) foo\nesac", "case $x in a) foo;;esac"},
	{"foo()\n{\n  bar\n}", "foo(){ bar;}"},
	{"f() {\n  echo a\n}\nf", "f() { echo a;};f"},
	{"a ; b  |  c", "a;b|c"},
	{"true &&\n  false", "true && false"},
	{"for i in 1 2 3\ndo\n  echo $i\ndone\n", "for i in 1 2 3;do echo $i;done"},
	{"a=${b:-c}  # x\nd=$(e  f)", "a=${b:-c};d=$(e  f)"},
	{"#!/bin/bash\n# comment\n\nif [ -n \"$1\" ]; then\n    echo \"hello  $1\"   # greet\nelse\n    echo bye\nfi\n", "if [ -n \"$1\" ];then echo \"hello  $1\";else echo bye;fi"},
}

func TestSh(t *testing.T) {
	m := minify.New()
	for _, tt := range shTests {
		t.Run(tt.sh, func(t *testing.T) {
			r := bytes.NewBufferString(tt.sh)
			w := &bytes.Buffer{}
			err := Minify(m, w, r, nil)
			test.Minify(t, tt.sh, err, w.String(), tt.expected)
		})
	}
}

func TestIdempotence(t *testing.T) {
	m := minify.New()
	for _, tt := range shTests {
		t.Run(tt.expected, func(t *testing.T) {
			r := bytes.NewBufferString(tt.expected)
			w := &bytes.Buffer{}
			err := Minify(m, w, r, nil)
			test.Minify(t, tt.expected, err, w.String(), tt.expected, "minified script must be a fixed point")
		})
	}
}

func TestKeepShebang(t *testing.T) {
	shTests := []struct {
		sh       string
		expected string
	}{
		{"#!/bin/sh\n# c\necho  a\n", "#!/bin/sh\necho a"},
		{"#!/bin/sh", "#!/bin/sh"},
		{"#!/usr/bin/env bash\n\n", "#!/usr/bin/env bash"},
		{"echo a # b", "echo a"},
		{"  #!/bin/sh\necho", "echo"},
	}

	m := minify.New()
	o := &Minifier{KeepShebang: true}
	for _, tt := range shTests {
		t.Run(tt.sh, func(t *testing.T) {
			r := bytes.NewBufferString(tt.sh)
			w := &bytes.Buffer{}
			err := o.Minify(m, w, r, nil)
			test.Minify(t, tt.sh, err, w.String(), tt.expected)
		})
	}
}

func TestStripComments(t *testing.T) {
	passTests := []struct {
		sh       string
		expected string
	}{
		{"a # b\nc", "a \nc"},
		{"# hdr\necho", "\necho"},
		{"echo \"#x\"", "echo \"#x\""},
		{"echo a#b", "echo a#b"},
		{"a;# b", "a;"},
		{"a \\# b", "a \\# b"},
		{"${a#b}", "${a#b}"},
		{"cat <<E\n# x\nE\n# y", "cat <<E\n# x\nE\n"},
	}
	for _, tt := range passTests {
		t.Run(tt.sh, func(t *testing.T) {
			test.String(t, string(stripComments([]byte(tt.sh))), tt.expected)
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	passTests := []struct {
		sh       string
		expected string
	}{
		{"  a   b  \n\n\n c", "a b\nc"},
		{"a\t\tb", "a b"},
		{"a  \n", "a\n"},
		{"a ", "a"},
		{"\t\n \n", ""},
		{"a \\\n b", "a b"},
		{"echo foo\\\nbar", "echo foobar"},
		{"a 'x  y'  b", "a 'x  y' b"},
		{"cat <<E\n  x  \nE\n", "cat <<E\n  x  \nE\n"},
	}
	for _, tt := range passTests {
		t.Run(tt.sh, func(t *testing.T) {
			test.String(t, string(collapseWhitespace([]byte(tt.sh))), tt.expected)
		})
	}
}

func TestSeparateStatements(t *testing.T) {
	passTests := []struct {
		sh       string
		expected string
	}{
		{"a\nb", "a;b"},
		{"a;\nb", "a;b"},
		{"a\n", "a"},
		{"if x; then\nb\nfi", "if x; then b;fi"},
		{"for x in\na", "for x in a"},
		{"a &&\nb", "a && b"},
		{"a ||\nb", "a || b"},
		{"a (\nb\n)", "a ( b;)"},
		{"foo()\n{\nbar\n}", "foo(){ bar;}"},
		{"foo\n{\nbar\n}", "foo { bar;}"},
		{"case a in\nx) y\nesac", "case a in x) y;;esac"},
		{"x) y;;\nesac", "x) y;;esac"},
		{"\"a\nb\"", "\"a\nb\""},
		{"$(a\nb)", "$(a\nb)"},
	}
	for _, tt := range passTests {
		t.Run(tt.sh, func(t *testing.T) {
			test.String(t, string(separateStatements([]byte(tt.sh))), tt.expected)
		})
	}
}

func TestTrimSeparators(t *testing.T) {
	passTests := []struct {
		sh       string
		expected string
	}{
		{"a ; b | c", "a;b|c"},
		{"a\t;\tb", "a;b"},
		{"a | b", "a|b"},
		{"a  ;b", "a ;b"},
		{" a ", "a"},
		{"'a ; b'", "'a ; b'"},
		{"\"a ; b\" ; c", "\"a ; b\";c"},
	}
	for _, tt := range passTests {
		t.Run(tt.sh, func(t *testing.T) {
			test.String(t, string(trimSeparators([]byte(tt.sh))), tt.expected)
		})
	}
}

func TestReaderErrors(t *testing.T) {
	m := minify.New()
	r := test.NewErrorReader(0)
	w := &bytes.Buffer{}
	err := Minify(m, w, r, nil)
	test.T(t, err, test.ErrPlain, "return error at first read")
}

func TestWriterErrors(t *testing.T) {
	errorTests := []int{0, 1, 2}

	m := minify.New()
	o := &Minifier{KeepShebang: true}
	for _, n := range errorTests {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			// writes:                  0        12
			r := bytes.NewBufferString("#!/bin/sh\na")
			w := test.NewErrorWriter(n)
			err := o.Minify(m, w, r, nil)
			test.T(t, err, test.ErrPlain, "return error at write", n)
		})
	}
}

////////////////////////////////////////////////////////////////

func ExampleMinify() {
	m := minify.New()
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(sh|bash|shellscript)$"), Minify)

	if err := m.Minify("text/x-shellscript", os.Stdout, os.Stdin); err != nil {
		panic(err)
	}
}
