package main

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/djherbis/atime"
	humanize "github.com/dustin/go-humanize"
	"github.com/matryer/try"
	min "github.com/shellmin/minify"
	"github.com/shellmin/minify/sh"
	"github.com/tdewolff/argp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// Version is the current shmin version.
var Version = "built from source"

// mediatype is the media type all inputs are minified as.
const mediatype = "text/x-shellscript"

// extMap lists the filename extensions of shell scripts picked up when walking directories.
var extMap = map[string]bool{
	"sh":   true,
	"bash": true,
}

var (
	m                  *min.M
	matches            []string
	matchesRegexp      []*regexp.Regexp
	hidden             bool
	recursive          bool
	quiet              bool
	verbose            int
	version            bool
	watch              bool
	bundle             bool
	preserve           []string
	preserveMode       bool
	preserveOwnership  bool
	preserveTimestamps bool
)

// Matches scans filename patterns up to the next option.
type Matches struct {
	matches *[]string
}

func (scanner Matches) Scan(s []string) (int, error) {
	n := 0
	for _, item := range s {
		if strings.HasPrefix(item, "-") {
			break
		}
		*scanner.matches = append(*scanner.matches, item)
		n++
	}
	return n, nil
}

func (typenamer Matches) TypeName() string {
	return "[]string"
}

// Task is a minify task.
type Task struct {
	root string
	srcs []string
	dst  string
}

// NewTask returns a new Task. An output directory receives the input at its path relative to root.
func NewTask(root, input, output string) (Task, error) {
	if len(output) != 0 && (output == "." || output[len(output)-1] == os.PathSeparator) {
		rel, err := filepath.Rel(root, input)
		if err != nil {
			return Task{}, err
		}
		output = filepath.Join(output, rel)
	}
	return Task{root, []string{input}, output}, nil
}

// Loggers.
var (
	Error   *log.Logger
	Warning *log.Logger
	Info    *log.Logger
)

func main() {
	// os.Exit doesn't execute pending defer calls, this is fixed by encapsulating run()
	os.Exit(run())
}

func run() int {
	var inputs []string
	var output string

	shMinifier := sh.Minifier{}

	defaultPreserve := []string{"mode", "timestamps"}
	if supportsGetOwnership {
		defaultPreserve = []string{"mode", "ownership", "timestamps"}
	}

	f := argp.New("shmin")
	f.AddRest(&inputs, "inputs", "Input scripts or directories, leave blank to use stdin")
	f.AddOpt(&output, "o", "output", nil, "Output file or directory, leave blank to use stdout")
	f.AddOpt(Matches{&matches}, "", "match", nil, "Filename matching pattern, only matching filenames are processed in directories")
	f.AddOpt(&recursive, "r", "recursive", false, "Recursively minify directories")
	f.AddOpt(&hidden, "a", "all", false, "Minify all scripts, including hidden files and files in hidden directories")
	f.AddOpt(&quiet, "q", "quiet", false, "Quiet mode to suppress all output")
	f.AddOpt(argp.Count{I: &verbose}, "v", "verbose", nil, "Verbose mode, set twice for more verbosity")
	f.AddOpt(&watch, "w", "watch", false, "Watch scripts and minify upon changes")
	f.AddOpt(&preserve, "p", "preserve", defaultPreserve, "Preserve options (mode, ownership, timestamps, all)")
	f.AddOpt(&bundle, "b", "bundle", false, "Bundle scripts by concatenation into a single file")
	f.AddOpt(&version, "", "version", false, "Version")

	f.AddOpt(&shMinifier.KeepShebang, "", "sh-keep-shebang", false, "Preserve the #! interpreter line")
	f.Parse()

	if version {
		if !quiet {
			fmt.Printf("shmin %s\n", Version)
		}
		return 0
	}

	if len(inputs) == 1 && inputs[0] == "-" {
		inputs = inputs[:0] // stdin
	}
	if output == "-" {
		output = "" // stdout
	}
	useStdin := len(inputs) == 0

	Error = log.New(io.Discard, "", 0)
	Warning = log.New(io.Discard, "", 0)
	Info = log.New(io.Discard, "", 0)
	if !quiet {
		Error = log.New(os.Stderr, "ERROR: ", 0)
		if 0 < verbose {
			Warning = log.New(os.Stderr, "WARNING: ", 0)
		}
		if 1 < verbose {
			Info = log.New(os.Stderr, "INFO: ", 0)
		}
	}

	var err error
	if 0 < len(matches) {
		matchesRegexp = make([]*regexp.Regexp, len(matches))
		for i, pattern := range matches {
			if matchesRegexp[i], err = compilePattern(pattern); err != nil {
				Error.Println(err)
				return 1
			}
		}
	}

	if (useStdin || output == "") && watch {
		Error.Println("--watch doesn't work with stdin and stdout, specify input and output")
		return 1
	} else if useStdin && (bundle || recursive) {
		if bundle {
			Error.Println("--bundle doesn't work with stdin, specify input")
		}
		if recursive {
			Error.Println("--recursive doesn't work with stdin, specify input")
		}
		return 1
	} else if output == "" && recursive && !bundle {
		Error.Println("--recursive doesn't work with stdout, specify output or use --bundle")
		return 1
	}
	if f.IsSet("preserve") {
		if bundle {
			Error.Println("--preserve cannot be used together with --bundle")
			return 1
		} else if useStdin || output == "" {
			Error.Println("--preserve cannot be used together with stdin or stdout")
			return 1
		}
	}
	for _, option := range preserve {
		switch option {
		case "all":
			preserveMode = true
			preserveOwnership = true
			preserveTimestamps = true
		case "mode":
			preserveMode = true
		case "ownership":
			preserveOwnership = true
		case "timestamps":
			preserveTimestamps = true
		default:
			Warning.Println("unknown preserve option", option)
		}
	}
	if preserveOwnership && !supportsGetOwnership {
		Warning.Println(fmt.Errorf("preserve ownership not supported on platform"))
	}

	////////////////

	for i, input := range inputs {
		if input == "-" {
			Error.Println("cannot mix files and stdin as input")
			return 1
		}
		inputs[i] = filepath.Clean(input)
		if input[len(input)-1] == os.PathSeparator {
			inputs[i] += string(os.PathSeparator)
		}
	}

	// set output file or directory, empty means stdout
	dirDst := false
	if output != "" {
		dirDst = IsDir(output)
		if !dirDst {
			if 1 < len(inputs) && !bundle {
				Error.Printf("stat %v: no such file or directory\n", output)
				return 1
			} else if len(inputs) == 1 && !bundle && IsDir(inputs[0]) {
				dirDst = true
			}
		}
		if dirDst && bundle {
			Error.Println("--bundle requires destination to be stdout or a file")
			return 1
		}

		output = filepath.Clean(output)
		if dirDst {
			output += string(os.PathSeparator)
		}
	} else if 1 < len(inputs) && !bundle {
		Error.Println("must specify --bundle for multiple input files with stdout destination")
		return 1
	}
	if output == "" {
		Info.Println("minify to stdout")
	} else if !dirDst {
		Info.Println("minify to output file", output)
	} else {
		Info.Println("minify to output directory", output)
	}

	var tasks []Task
	var roots []string
	if useStdin {
		Info.Println("minify from stdin")
		if !quiet && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "reading script from terminal, end input with Ctrl-D")
		}
		tasks = append(tasks, Task{srcs: []string{""}, dst: output})
		roots = append(roots, "")
	} else {
		tasks, roots, err = createTasks(NewFS(), inputs, output)
		if err != nil {
			Error.Println(err)
			return 1
		}
	}

	// concatenate
	if 1 < len(tasks) && bundle {
		for _, task := range tasks[1:] {
			tasks[0].srcs = append(tasks[0].srcs, task.srcs[0])
		}
		tasks = tasks[:1]
	}

	if dirDst {
		if err := os.MkdirAll(output, 0777); err != nil {
			Error.Println(err)
			return 1
		}
	}

	////////////////

	m = min.New()
	m.AddRegexp(regexp.MustCompile("^(application|text)/(x-)?(sh|bash|shellscript)$"), &shMinifier)

	var fails int32
	start := time.Now()
	if !watch && (len(tasks) == 1 || 0 < verbose) {
		for _, task := range tasks {
			if ok := minify(task); !ok {
				fails++
			}
		}
	} else {
		numWorkers := runtime.NumCPU()
		if 0 < verbose {
			numWorkers = 1
		} else if numWorkers < 4 {
			numWorkers = 4
		}

		var group errgroup.Group
		group.SetLimit(numWorkers)
		submit := func(task Task) {
			group.Go(func() error {
				if ok := minify(task); !ok {
					atomic.AddInt32(&fails, 1)
				}
				return nil
			})
		}

		if !watch {
			for _, task := range tasks {
				submit(task)
			}
		} else {
			watcher, err := NewWatcher(recursive)
			if err != nil {
				Error.Println(err)
				return 1
			}
			defer watcher.Close()

			for _, input := range inputs {
				if err := watcher.AddPath(input); err != nil {
					Error.Println(err)
					return 1
				}
			}
			for _, task := range tasks {
				watcher.IgnoreNext(task.dst)
			}
			changes := watcher.Run()

			for _, task := range tasks {
				submit(task)
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			for changes != nil {
				select {
				case <-c:
					watcher.Close()
				case file, ok := <-changes:
					if !ok {
						changes = nil
						break
					}

					// explicit inputs are relative to their directory, others to the deepest root containing them
					root := filepath.Dir(file)
					if !inputFile(inputs, file) {
						if !fileMatches(file) {
							break
						}
						rootRel := ""
						for _, path := range roots {
							pathRel, err := filepath.Rel(path, file)
							if err == nil && !strings.HasPrefix(pathRel, "..") && (rootRel == "" || len(pathRel) < len(rootRel)) {
								root, rootRel = path, pathRel
							}
						}
					}

					task, err := NewTask(root, file, output)
					if err != nil {
						Error.Println(err)
						break
					}
					if bundle {
						task = tasks[0]
					}
					watcher.IgnoreNext(task.dst) // skip change on output
					submit(task)
				}
			}
		}
		_ = group.Wait()
	}

	if !watch {
		Info.Println("finished in", time.Since(start))
	}
	if 0 < fails {
		return 1
	}
	return 0
}

// compilePattern returns a regular expression for a glob pattern, or for a regular expression prefixed with ~.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if len(pattern) == 0 || pattern[0] != '~' {
		if strings.HasPrefix(pattern, `\~`) {
			pattern = pattern[1:]
		}
		pattern = regexp.QuoteMeta(pattern)
		pattern = strings.ReplaceAll(pattern, `\*\*`, `.*`)
		pattern = strings.ReplaceAll(pattern, `\*`, fmt.Sprintf(`[^%c]*`, filepath.Separator))
		pattern = strings.ReplaceAll(pattern, `\?`, fmt.Sprintf(`[^%c]?`, filepath.Separator))
		pattern = "^" + pattern + "$"
	} else {
		pattern = pattern[1:]
	}
	return regexp.Compile(pattern)
}

// inputFile returns true if the file was given explicitly on the command line.
func inputFile(inputs []string, filename string) bool {
	for _, input := range inputs {
		if filepath.Clean(input) == filename {
			return true
		}
	}
	return false
}

// fileMatches returns true if a file found in a directory is a shell script to minify.
func fileMatches(filename string) bool {
	base := filepath.Base(filename)
	if 0 < len(matchesRegexp) {
		for _, re := range matchesRegexp {
			if re.MatchString(base) {
				return true
			}
		}
		return false
	}

	ext := filepath.Ext(base)
	if 0 < len(ext) {
		ext = ext[1:]
	}
	return extMap[ext]
}

func createTasks(fsys fs.FS, inputs []string, output string) ([]Task, []string, error) {
	tasks := []Task{}
	roots := []string{}
	for _, input := range inputs {
		root := filepath.Clean(filepath.Dir(input))
		input = filepath.Clean(input)

		// follow and dereference symlinks
		info, err := fs.Stat(fsys, input)
		if err != nil {
			return nil, nil, err
		}

		if info.Mode().IsRegular() {
			// explicit inputs are scripts regardless of their name
			task, err := NewTask(root, input, output)
			if err != nil {
				return nil, nil, err
			}
			tasks = append(tasks, task)
		} else if info.Mode().IsDir() {
			if !recursive {
				Warning.Println("--recursive not specified, omitting directory", input)
				continue
			}

			var walkFn func(string, fs.DirEntry, error) error
			walkFn = func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				} else if d.Name() == "." || d.Name() == ".." {
					return nil
				} else if d.Name() == "" || !hidden && d.Name()[0] == '.' {
					if d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}

				if d.Type()&fs.ModeSymlink != 0 {
					info, err := fs.Stat(fsys, path)
					if err != nil {
						return err
					}
					if info.IsDir() {
						return fs.WalkDir(fsys, path, walkFn)
					}
					d = fs.FileInfoToDirEntry(info)
				}

				if d.Type().IsRegular() && fileMatches(path) {
					task, err := NewTask(root, path, output)
					if err != nil {
						return err
					}
					tasks = append(tasks, task)
				}
				return nil
			}
			if err := fs.WalkDir(fsys, input, walkFn); err != nil {
				return nil, nil, err
			}
			roots = append(roots, root)
		} else {
			return nil, nil, fmt.Errorf("not a file or directory %s", input)
		}
	}
	return tasks, roots, nil
}

func minify(t Task) bool {
	t.srcs = append([]string{}, t.srcs...) // renamed below when overwriting
	srcName := strings.Join(t.srcs, " + ")
	if len(t.srcs) > 1 {
		srcName = "(" + srcName + ")"
	}
	if srcName == "" {
		srcName = "stdin"
	}
	dstName := t.dst
	if dstName == "" {
		dstName = "stdout"
	} else {
		// rename original when overwriting
		for i := range t.srcs {
			if sameFile, _ := SameFile(t.srcs[i], t.dst); sameFile {
				t.srcs[i] += ".bak"
				err := try.Do(func(attempt int) (bool, error) {
					ferr := os.Rename(t.dst, t.srcs[i])
					return attempt < 5, ferr
				})
				if err != nil {
					Error.Println(err)
					return false
				}
				break
			}
		}
	}

	var err error
	var fr io.ReadCloser
	if len(t.srcs) == 1 {
		fr, err = openInputFile(t.srcs[0])
	} else {
		fr, err = openInputFiles(t.srcs, []byte("\n"))
	}
	if err != nil {
		Error.Println(err)
		return false
	}

	b, err := io.ReadAll(fr)
	fr.Close()
	if err != nil {
		Error.Println("cannot minify "+srcName+":", err)
		return false
	}

	fw, err := openOutputFile(t.dst)
	if err != nil {
		Error.Println(err)
		return false
	}

	w := bytes.NewBuffer(make([]byte, 0, len(b)+1))
	success := true
	startTime := time.Now()
	if err = m.Minify(mediatype, w, bytes.NewReader(b)); err != nil {
		w = bytes.NewBuffer(b) // copy original
		Error.Println("cannot minify "+srcName+":", err)
		success = false
	} else {
		w.WriteByte('\n')
	}
	dur := time.Since(startTime)

	rLen, wLen := len(b), w.Len()
	_, err = io.Copy(fw, w)
	if fw != os.Stdout {
		fw.Close()
	}
	if err != nil {
		Error.Println("cannot write "+dstName+":", err)
		success = false
	}

	if 0 < verbose {
		speed := "Inf MB"
		if 0 < dur {
			speed = humanize.Bytes(uint64(float64(rLen) / dur.Seconds()))
		}
		ratio := 1.0
		if 0 < rLen {
			ratio = float64(wLen) / float64(rLen)
		}

		stats := fmt.Sprintf("(%9v, %6v, %6v, %5.1f%%, %6v/s)", dur, humanize.Bytes(uint64(rLen)), humanize.Bytes(uint64(wLen)), ratio*100, speed)
		if srcName != dstName {
			fmt.Fprintln(os.Stderr, stats, "-", srcName, "to", dstName)
		} else {
			fmt.Fprintln(os.Stderr, stats, "-", srcName)
		}
	}

	// remove original that was renamed, when overwriting files
	for i := range t.srcs {
		if t.srcs[i] == t.dst+".bak" {
			if err == nil {
				if err = os.Remove(t.srcs[i]); err != nil {
					Error.Println(err)
					return false
				}
			} else {
				if err = os.Remove(t.dst); err != nil {
					Error.Println(err)
					return false
				} else if err = os.Rename(t.srcs[i], t.dst); err != nil {
					Error.Println(err)
					return false
				}
			}
			t.srcs[i] = t.dst
			break
		}
	}
	if len(t.srcs) == 1 {
		preserveAttributes(t.srcs[0], t.root, t.dst)
	}
	return success
}

// preserveAttributes copies mode, ownership and timestamps from src to dst, and from each parent directory of src up to root to the matching parent of dst.
func preserveAttributes(src, root, dst string) {
	if src == "" || dst == "" {
		return
	}

	var err error
	src, err = filepath.Rel(root, src)
	if err != nil {
		Error.Printf("src is not part of root path: src=%s root=%s", src, root)
		return
	}

	for {
		srcInfo, err := os.Stat(filepath.Join(root, src))
		if err != nil {
			Warning.Println(err)
			return
		}

		if preserveMode {
			if err := os.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
				Warning.Println(err)
			}
		}
		if preserveOwnership {
			if uid, gid, ok := getOwnership(srcInfo); ok {
				if err := os.Chown(dst, uid, gid); err != nil {
					Warning.Println(err)
				}
			}
		}
		if preserveTimestamps {
			if err := os.Chtimes(dst, atime.Get(srcInfo), srcInfo.ModTime()); err != nil {
				Warning.Println(err)
			}
		}

		src = filepath.Dir(src)
		dst = filepath.Dir(dst)
		if src == "." {
			// go up to but excluding the root path
			return
		}
	}
}
