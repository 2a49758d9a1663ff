// Package loggingtest collects the entries of the logrus standard logger,
// so that tests can wait for them.
package loggingtest

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type logSubscription struct {
	exp      string
	n        int
	response chan<- struct{}
}

type logCount struct {
	exp      string
	response chan<- int
}

type logWatch struct {
	entries []string
	reqs    []*logSubscription
	muted   bool
}

// TestLogger is a logrus hook. While it is installed, it records the
// messages of the standard logger.
type TestLogger struct {
	save   chan string
	notify chan<- logSubscription
	count  chan<- logCount
	clear  chan struct{}
	mute   chan<- bool
	quit   chan struct{}
	once   sync.Once
	hooks  log.LevelHooks
	level  log.Level
}

// ErrWaitTimeout is returned when the expected entries were not logged
// in time.
var ErrWaitTimeout = errors.New("timeout")

func (lw *logWatch) save(e string) {
	if lw.muted {
		return
	}

	lw.entries = append(lw.entries, e)
	for i := len(lw.reqs) - 1; i >= 0; i-- {
		req := lw.reqs[i]
		if strings.Contains(e, req.exp) {
			req.n--
			if req.n <= 0 {
				close(req.response)
				lw.reqs = append(lw.reqs[:i], lw.reqs[i+1:]...)
			}
		}
	}
}

func (lw *logWatch) notify(req logSubscription) {
	for i := len(lw.entries) - 1; i >= 0; i-- {
		if strings.Contains(lw.entries[i], req.exp) {
			req.n--
			if req.n == 0 {
				break
			}
		}
	}

	if req.n <= 0 {
		close(req.response)
	} else {
		lw.reqs = append(lw.reqs, &req)
	}
}

func (lw *logWatch) count(req logCount) {
	var n int
	for _, e := range lw.entries {
		if strings.Contains(e, req.exp) {
			n++
		}
	}

	req.response <- n
}

func (lw *logWatch) clear() {
	lw.entries = nil
	lw.reqs = nil
}

// New installs a TestLogger on the standard logger, as its only hook, and
// enables all the levels. Close restores the previous hooks and level.
func New() *TestLogger {
	lw := &logWatch{}
	save := make(chan string)
	notify := make(chan logSubscription)
	count := make(chan logCount)
	clear := make(chan struct{})
	mute := make(chan bool)
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case e := <-save:
				lw.save(e)
			case req := <-notify:
				lw.notify(req)
			case req := <-count:
				lw.count(req)
			case <-clear:
				lw.clear()
			case m := <-mute:
				lw.muted = m
			case <-quit:
				return
			}
		}
	}()

	tl := &TestLogger{
		save:   save,
		notify: notify,
		count:  count,
		clear:  clear,
		mute:   mute,
		quit:   quit,
		level:  log.GetLevel(),
	}

	hooks := make(log.LevelHooks)
	hooks.Add(tl)
	tl.hooks = log.StandardLogger().ReplaceHooks(hooks)
	log.SetLevel(log.TraceLevel)
	return tl
}

// Levels returns all the levels.
func (tl *TestLogger) Levels() []log.Level {
	return log.AllLevels
}

// Fire records the message of the entry, prefixed with its level.
func (tl *TestLogger) Fire(e *log.Entry) error {
	select {
	case tl.save <- e.Level.String() + ": " + e.Message:
	case <-tl.quit:
	}

	return nil
}

// WaitForN waits until n entries containing exp were logged, counting
// the ones logged before the call.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	found := make(chan struct{})
	select {
	case tl.notify <- logSubscription{exp, n, found}:
	case <-tl.quit:
		return ErrWaitTimeout
	}

	select {
	case <-found:
		return nil
	case <-time.After(to):
		return ErrWaitTimeout
	}
}

// WaitFor waits for an entry containing exp.
func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// Count returns the number of recorded entries containing exp.
func (tl *TestLogger) Count(exp string) int {
	rsp := make(chan int, 1)
	select {
	case tl.count <- logCount{exp, rsp}:
		return <-rsp
	case <-tl.quit:
		return 0
	}
}

// Reset drops the recorded entries and the pending waits.
func (tl *TestLogger) Reset() {
	select {
	case tl.clear <- struct{}{}:
	case <-tl.quit:
	}
}

// Mute stops recording entries.
func (tl *TestLogger) Mute() { tl.setMute(true) }

// Unmute continues recording entries.
func (tl *TestLogger) Unmute() { tl.setMute(false) }

func (tl *TestLogger) setMute(m bool) {
	select {
	case tl.mute <- m:
	case <-tl.quit:
	}
}

// Close uninstalls the hook. It can be called multiple times.
func (tl *TestLogger) Close() {
	tl.once.Do(func() {
		log.StandardLogger().ReplaceHooks(tl.hooks)
		log.SetLevel(tl.level)
		close(tl.quit)
	})
}
