package minify

import (
	"testing"

	"github.com/tdewolff/test"
)

func TestMinify(t *testing.T) {
	s, err := Sh("foo()\n{\n  bar  # baz\n}\n")
	test.Error(t, err)
	test.String(t, s, `foo(){ bar;}`)

	for _, mediatype := range []string{"text/x-shellscript", "application/x-sh", "text/x-sh", "application/x-bash", "text/x-shellscript; charset=utf-8"} {
		s, err = Default.String(mediatype, "a ; b")
		test.Error(t, err, mediatype)
		test.String(t, s, "a;b", mediatype)
	}

	_, _, minifier := Default.Match("text/plain")
	test.That(t, minifier == nil, "no minifier for text/plain")
}
