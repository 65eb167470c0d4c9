package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook points Entry.Caller at the first frame that belongs to neither
// logrus nor the wrappers in this package, so the caller field names the
// component that logged.
type callerHook struct {
	skip []string
}

func newCallerHook() *callerHook {
	return &callerHook{skip: []string{
		"github.com/sirupsen/logrus.",
		"tradedash/logger.",
	}}
}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	var pcs [24]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !h.wrapped(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func (h *callerHook) wrapped(fn string) bool {
	for _, prefix := range h.skip {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
