package minify

import (
	"regexp"

	"github.com/shellmin/minify"
	"github.com/shellmin/minify/sh"
)

// MediaTypes matches the media types of shell scripts.
var MediaTypes = regexp.MustCompile("^(application|text)/(x-)?(sh|bash|shellscript)$")

// Default minifiers for shell scripts
var Default *minify.M

func init() {
	Default = minify.New()
	Default.AddRegexp(MediaTypes, sh.DefaultMinifier)
}

// Sh string minifier using all default minifiers
func Sh(s string) (string, error) {
	return Default.String("text/x-shellscript", s)
}
