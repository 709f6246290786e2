// Package nlog is the connection core's logger: severity-leveled
// (Info/Warning/Error), buffered, optionally file-backed with size-based
// rotation, and safe for concurrent use from every package in this module.
// No package here ever calls the standard "log" package or fmt.Println
// directly; everything routes through nlog so a single Flush/rotation
// policy governs the whole process.
package nlog

import (
	"flag"
	"time"
)

var MaxSize int64 = 4 * 1024 * 1024

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func InfoDepth(depth int, args ...any)    { logl(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { logl(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { logl(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { logl(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { logl(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { logl(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { logl(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { logl(sevErr, 0, format, args...) }

func SetLogDirRole(dir, role string) { logDir, role_ = dir, role }
func SetTitle(s string)              { title = s }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string  { return sname() + ".ERROR" }

// Flush forces every severity's buffer out to its destination. Pass true
// to additionally sync and close backing files (process exit path).
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		nlogs[sev].flush(ex)
	}
}

// Since returns the longer of the info and error streams' times since
// their last flush (0 for a stream never flushed), used by periodic
// housekeeping to decide whether an idle flush is due.
func Since() time.Duration {
	a := nlogs[sevInfo].sinceFlush()
	b := nlogs[sevErr].sinceFlush()
	if a > b {
		return a
	}
	return b
}

// OOB reports whether any severity has unflushed buffered lines.
func OOB() bool {
	return nlogs[sevInfo].pending() || nlogs[sevErr].pending()
}
