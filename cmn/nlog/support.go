package nlog

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	toStderr     bool
	alsoToStderr bool

	logDir  = os.TempDir()
	aisrole = "txcore"
	title   string

	host string
	pid  = os.Getpid()

	sevText = [...]string{sevInfo: "I", sevWarn: "W", sevErr: "E"}

	// source files whose caller location is not worth logging (the logger's
	// own entry points): the header of a line from one of these files
	// carries no file:line location.
	redactFnames = map[string]struct{}{
		"api": {},
	}

	nlogs [3]*nlog

	onceInitFiles sync.Once
	pool          sync.Pool
)

func init() {
	if h, err := os.Hostname(); err == nil {
		host = h
	} else {
		host = "localhost"
	}
}

func initFiles() {
	nlogs[sevInfo] = newNlog(sevInfo)
	nlogs[sevErr] = newNlog(sevErr)
	now := time.Now()
	for _, n := range []*nlog{nlogs[sevInfo], nlogs[sevErr]} {
		if f, _, err := fcreate(sevText[n.sev], now); err == nil {
			n.file = f
		} else {
			n.erred.Store(true)
		}
	}
}

func sname() string { return aisrole }

// fcreate creates (or opens for append) the log file for the given severity
// tag, naming it the way logfname does, and symlinks a fixed-name "current"
// pointer at it.
func fcreate(tag string, t time.Time) (f *os.File, link string, err error) {
	var name string
	name, link = logfname(tag, t)
	dir := logDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, name)
	f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", err
	}
	linkPath := filepath.Join(dir, link)
	os.Remove(linkPath)
	os.Symlink(name, linkPath)
	return f, link, nil
}

func assert(cond bool) {
	if !cond {
		panic("nlog: assertion failed")
	}
}

// fixed is a fixed-capacity byte buffer used both as the per-nlog working
// buffer and as the overflow pool entry; it implements io.Writer so
// fmt.Fprintf can write into it directly.
type fixed struct {
	buf  []byte
	woff int
}

func (f *fixed) Write(p []byte) (int, error) {
	n := copy(f.buf[f.woff:], p)
	f.woff += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (f *fixed) writeByte(b byte) {
	if f.woff < len(f.buf) {
		f.buf[f.woff] = b
		f.woff++
	}
}

func (f *fixed) writeString(s string) { f.Write([]byte(s)) }

func (f *fixed) eol() { f.writeByte('\n') }

func (f *fixed) reset()      { f.woff = 0 }
func (f *fixed) length() int { return f.woff }
func (f *fixed) size() int   { return len(f.buf) }
func (f *fixed) avail() int  { return len(f.buf) - f.woff }

func (f *fixed) flush(w io.Writer) (int, error) {
	n, err := w.Write(f.buf[:f.woff])
	f.woff = 0
	return n, err
}
