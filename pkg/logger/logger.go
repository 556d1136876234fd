package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Level controls which messages reach the output.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

var std = log.New(os.Stderr, "", log.LstdFlags)

func init() {
	currentLevel.Store(int32(parseLevel(os.Getenv("LUCIA_LOG_LEVEL"))))
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel overrides the level taken from LUCIA_LOG_LEVEL.
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

func enabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func emit(l Level, tag, component, msg string, fields map[string]any) {
	if !enabled(l) {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}
	std.Println(b.String())
}

func DebugC(component, msg string) { emit(LevelDebug, "DEBUG", component, msg, nil) }

func DebugCF(component, msg string, f map[string]any) { emit(LevelDebug, "DEBUG", component, msg, f) }

func InfoC(component, msg string) { emit(LevelInfo, "INFO", component, msg, nil) }

func InfoCF(component, msg string, f map[string]any) { emit(LevelInfo, "INFO", component, msg, f) }

func WarnC(component, msg string) { emit(LevelWarn, "WARN", component, msg, nil) }

func WarnCF(component, msg string, f map[string]any) { emit(LevelWarn, "WARN", component, msg, f) }

func ErrorC(component, msg string) { emit(LevelError, "ERROR", component, msg, nil) }

func ErrorCF(component, msg string, f map[string]any) { emit(LevelError, "ERROR", component, msg, f) }
