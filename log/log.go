// Package log provides the structured, leveled logger used across the
// engine. It follows the key/value call convention popularized by log15
// and carried forward by go-ethereum/klaytn's own log package: callers pass
// a message followed by an even number of context arguments.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// Lvl is the level of a log record.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[Lvl]color.Attribute{
	LvlCrit:  color.FgMagenta,
	LvlError: color.FgRed,
	LvlWarn:  color.FgYellow,
	LvlInfo:  color.FgGreen,
	LvlDebug: color.FgCyan,
	LvlTrace: color.FgWhite,
}

// Module names, one per package that constructs a logger via
// NewModuleLogger. Kept as a closed set the way the teacher enumerates its
// module constants, so call sites can't typo a free-form string.
type Module string

const (
	ModuleCommon     Module = "common"
	ModuleCrypto     Module = "crypto"
	ModuleWire       Module = "wire"
	ModuleP2PContent Module = "p2p/content"
	ModuleDiscover   Module = "p2p/discover"
	ModuleNAT        Module = "p2p/nat"
	ModuleTransport  Module = "p2p/transport"
	ModuleBridge     Module = "bridge"
	ModuleEvent      Module = "consensus/event"
	ModuleGossip     Module = "consensus/gossip"
	ModulePBFT       Module = "consensus/pbft"
	ModuleStorage    Module = "storage"
	ModuleConfig     Module = "config"
	ModuleNode       Module = "node"
)

// Logger writes leveled, contextual log records.
type Logger interface {
	New(ctx ...interface{}) Logger

	Crit(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Trace(msg string, ctx ...interface{})
}

// Lazy wraps a function whose result is only computed if the record is
// actually emitted - for context values that are expensive to produce.
type Lazy struct {
	Fn func() interface{}
}

var (
	root      = &logger{ctx: nil, module: "root"}
	muLevel   sync.Mutex
	level     = LvlInfo
	out       io.Writer = colorable.NewColorableStdout()
	useColors           = true
)

// SetLevel sets the process-wide minimum level emitted by every logger.
func SetLevel(l Lvl) {
	muLevel.Lock()
	defer muLevel.Unlock()
	level = l
}

// SetOutput redirects where log records are written. Tests use this to
// capture output instead of writing to the terminal.
func SetOutput(w io.Writer) {
	muLevel.Lock()
	defer muLevel.Unlock()
	out = w
	useColors = false
}

// NewModuleLogger returns the root logger scoped to a module name, matching
// the teacher's `log.NewModuleLogger(log.Common)` idiom.
func NewModuleLogger(m Module) Logger {
	return root.New("module", string(m))
}

// New returns the default root logger with extra context attached.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

type logger struct {
	module string
	ctx    []interface{}
}

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{module: l.module, ctx: merged}
}

// NewWith is an alias for New kept for call sites ported from the teacher,
// which distinguishes "fork a child logger" (New) from "decorate this call"
// (NewWith) even though both do the same thing here.
func (l *logger) NewWith(ctx ...interface{}) Logger { return l.New(ctx...) }

func (l *logger) write(lv Lvl, msg string, ctx []interface{}) {
	muLevel.Lock()
	curLevel := level
	w := out
	colors := useColors
	muLevel.Unlock()

	if lv > curLevel {
		return
	}

	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)

	line := formatRecord(lv, msg, all, colors)
	_, _ = io.WriteString(w, line)
}

func formatRecord(lv Lvl, msg string, ctx []interface{}, colors bool) string {
	ts := time.Now().Format("2006-01-02T15:04:05-0700")
	levelStr := fmt.Sprintf("%-5s", lv.String())
	if colors {
		levelStr = color.New(levelColor[lv]).Sprint(levelStr)
	}

	b := fmt.Sprintf("%s [%s] %s", ts, levelStr, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		k := ctx[i]
		v := resolveLazy(ctx[i+1])
		b += fmt.Sprintf(" %v=%v", k, v)
	}
	return b + "\n"
}

func resolveLazy(v interface{}) interface{} {
	if lz, ok := v.(Lazy); ok {
		return lz.Fn()
	}
	return v
}

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }

// CallerInfo returns a short "file:line" string for the caller, used by
// subsystems that want to enrich a Crit record with a stack frame (mirrors
// the teacher's use of go-stack/stack in its own fatal-error paths).
func CallerInfo(skip int) string {
	call := stack.Caller(skip + 1)
	return fmt.Sprintf("%+v", call)
}
