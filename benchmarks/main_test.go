package benchmarks

import (
	"os"

	"github.com/shellmin/minify/minify"
	"github.com/tdewolff/parse/v2/buffer"
)

var m = minify.Default
var r = map[string]*buffer.Reader{}
var w = map[string]*buffer.Writer{}

var shSamples = []string{
	"sample_install.sh",
	"sample_functions.sh",
}

func init() {
	for _, sample := range shSamples {
		load(sample)
	}
}

func load(filename string) {
	sample, err := os.ReadFile(filename)
	if err != nil {
		panic(err)
	}
	r[filename] = buffer.NewReader(sample)
	w[filename] = buffer.NewWriter(make([]byte, 0, len(sample)))
}
