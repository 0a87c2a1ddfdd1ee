package browser

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

const minInterval = 10 * time.Millisecond

// loop serializes all access to the runtime. Work done off the loop
// (network, timers) hands its result back as a job.
//
// inflight, busyTimers and lastActivity are only touched on the loop
// goroutine.
type loop struct {
	vm     *goja.Runtime
	logger *zap.Logger
	jobs   chan func()
	done   chan struct{}

	idleWindow time.Duration
	poll       time.Duration

	inflight     int
	busyTimers   int
	lastActivity time.Time
	timers       map[int64]*jsTimer
	nextID       int64
}

type jsTimer struct {
	id     int64
	fn     goja.Callable
	args   []goja.Value
	repeat bool
	delay  time.Duration
	// busy timers hold off network idle until they fire.
	busy  bool
	timer *time.Timer
}

func newLoop(vm *goja.Runtime, logger *zap.Logger, idle, poll time.Duration) *loop {
	return &loop{
		vm:         vm,
		logger:     logger,
		jobs:       make(chan func(), 256),
		done:       make(chan struct{}),
		idleWindow: idle,
		poll:       poll,
		timers:     make(map[int64]*jsTimer),
	}
}

// enqueue hands fn to the loop. It reports false once the loop has
// stopped.
func (l *loop) enqueue(fn func()) bool {
	select {
	case l.jobs <- fn:
		return true
	case <-l.done:
		return false
	}
}

// spawn runs work on its own goroutine and the callback it returns on the
// loop. The page counts as busy until the callback has run.
func (l *loop) spawn(work func() func()) {
	l.inflight++
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.enqueue(func() { panic(r) })
			}
		}()
		cb := work()
		l.enqueue(func() {
			l.inflight--
			l.touch()
			if cb != nil {
				cb()
			}
		})
	}()
}

func (l *loop) touch() { l.lastActivity = time.Now() }

func (l *loop) idle(now time.Time) bool {
	return l.inflight == 0 && l.busyTimers == 0 && now.Sub(l.lastActivity) >= l.idleWindow
}

// run drains jobs until the page has been idle for the idle window or
// ctx ends.
func (l *loop) run(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	l.touch()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-l.jobs:
			job()
		case now := <-ticker.C:
			if l.idle(now) {
				return nil
			}
		}
	}
}

func (l *loop) stop() {
	select {
	case <-l.done:
		return
	default:
	}
	close(l.done)
	for _, t := range l.timers {
		t.timer.Stop()
	}
}

// call invokes a script callback. Script exceptions are logged and
// swallowed.
func (l *loop) call(fn goja.Callable, this goja.Value, args ...goja.Value) {
	if this == nil {
		this = goja.Undefined()
	}
	if _, err := fn(this, args...); err != nil {
		l.scriptError("callback", err)
	}
}

func (l *loop) scriptError(source string, err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return
	}
	l.logger.Debug("Script error", zap.String("source", source), zap.Error(err))
}

func (l *loop) install() {
	l.vm.Set("setTimeout", l.setTimer(false))
	l.vm.Set("setInterval", l.setTimer(true))
	l.vm.Set("clearTimeout", l.clearTimer)
	l.vm.Set("clearInterval", l.clearTimer)
	l.vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			l.schedule(fn, nil, 0, false)
		}
		return goja.Undefined()
	})
	l.vm.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return l.vm.ToValue(0)
		}
		return l.vm.ToValue(l.schedule(fn, nil, 16*time.Millisecond, false))
	})
}

func (l *loop) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// String callbacks would need eval.
			return l.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		return l.vm.ToValue(l.schedule(fn, args, delay, repeat))
	}
}

func (l *loop) schedule(fn goja.Callable, args []goja.Value, delay time.Duration, repeat bool) int64 {
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < minInterval {
		delay = minInterval
	}
	l.nextID++
	t := &jsTimer{
		id:     l.nextID,
		fn:     fn,
		args:   args,
		repeat: repeat,
		delay:  delay,
		busy:   !repeat && delay <= l.idleWindow,
	}
	l.timers[t.id] = t
	if t.busy {
		l.busyTimers++
	}
	l.arm(t)
	return t.id
}

func (l *loop) arm(t *jsTimer) {
	t.timer = time.AfterFunc(t.delay, func() {
		l.enqueue(func() { l.fire(t) })
	})
}

func (l *loop) fire(t *jsTimer) {
	if _, ok := l.timers[t.id]; !ok {
		return
	}
	if t.repeat {
		l.arm(t)
	} else {
		l.remove(t)
	}
	l.call(t.fn, nil, t.args...)
}

func (l *loop) remove(t *jsTimer) {
	delete(l.timers, t.id)
	t.timer.Stop()
	if t.busy {
		l.busyTimers--
		l.touch()
	}
}

func (l *loop) clearTimer(call goja.FunctionCall) goja.Value {
	if t, ok := l.timers[call.Argument(0).ToInteger()]; ok {
		l.remove(t)
	}
	return goja.Undefined()
}
