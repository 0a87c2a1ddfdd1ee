package browser

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// installNetwork binds every script-visible network API to the
// interceptor.
func (p *page) installNetwork() {
	p.vm.Set("fetch", p.fetch)
	p.vm.Set("XMLHttpRequest", p.newXHR)
	p.vm.Set("WebSocket", p.newWebSocket)
}

func (p *page) fetch(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := p.vm.NewPromise()

	method := http.MethodGet
	if init, ok := call.Argument(1).(*goja.Object); ok {
		if m := init.Get("method"); m != nil && !goja.IsUndefined(m) {
			method = m.String()
		}
	}
	target := p.resolve(call.Argument(0).String())

	p.loop.spawn(func() func() {
		resp, err := p.ic.Intercept(p.ctx, SubRequest{URL: target, Method: method, Type: TypeFetch})
		return func() {
			if err != nil {
				reject(p.vm.NewTypeError("%s", "Failed to fetch: "+err.Error()))
				return
			}
			resolve(p.response(resp))
		}
	})
	return p.vm.ToValue(promise)
}

// response builds the subset of the fetch Response interface pages use.
func (p *page) response(resp *SubResponse) *goja.Object {
	body := string(resp.Body)
	o := p.vm.NewObject()
	o.Set("ok", resp.Status >= 200 && resp.Status <= 299)
	o.Set("status", resp.Status)
	o.Set("url", resp.URL.String())

	headers := p.vm.NewObject()
	headers.Set("get", func(call goja.FunctionCall) goja.Value {
		v := resp.Header.Get(call.Argument(0).String())
		if v == "" {
			return goja.Null()
		}
		return p.vm.ToValue(v)
	})
	o.Set("headers", headers)

	o.Set("text", func(goja.FunctionCall) goja.Value {
		return p.settled(body, nil)
	})
	o.Set("json", func(goja.FunctionCall) goja.Value {
		var v interface{}
		if err := sonic.UnmarshalString(body, &v); err != nil {
			return p.settled(nil, p.vm.NewTypeError("%s", "invalid JSON body"))
		}
		return p.settled(v, nil)
	})
	return o
}

// settled returns a promise already resolved with v, or rejected with
// reason when it is non-nil.
func (p *page) settled(v interface{}, reason *goja.Object) goja.Value {
	promise, resolve, reject := p.vm.NewPromise()
	if reason != nil {
		reject(reason)
	} else {
		resolve(v)
	}
	return p.vm.ToValue(promise)
}

func (p *page) newXHR(call goja.ConstructorCall) *goja.Object {
	x := call.This
	var method, target string
	listeners := make(map[string][]goja.Callable)

	x.Set("readyState", 0)
	x.Set("status", 0)
	x.Set("responseText", "")
	x.Set("response", "")

	emit := func(event string) {
		if fn, ok := goja.AssertFunction(x.Get("on" + event)); ok {
			p.loop.call(fn, x)
		}
		for _, fn := range listeners[event] {
			p.loop.call(fn, x)
		}
	}

	x.Set("open", func(c goja.FunctionCall) goja.Value {
		method = c.Argument(0).String()
		target = p.resolve(c.Argument(1).String())
		x.Set("readyState", 1)
		return goja.Undefined()
	})
	x.Set("setRequestHeader", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	x.Set("abort", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	x.Set("addEventListener", func(c goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
			name := c.Argument(0).String()
			listeners[name] = append(listeners[name], fn)
		}
		return goja.Undefined()
	})
	x.Set("send", func(goja.FunctionCall) goja.Value {
		req := SubRequest{URL: target, Method: method, Type: TypeXHR}
		p.loop.spawn(func() func() {
			resp, err := p.ic.Intercept(p.ctx, req)
			return func() {
				x.Set("readyState", 4)
				if err != nil {
					emit("readystatechange")
					emit("error")
					emit("loadend")
					return
				}
				body := string(resp.Body)
				x.Set("status", resp.Status)
				x.Set("responseText", body)
				x.Set("response", body)
				x.Set("responseURL", resp.URL.String())
				emit("readystatechange")
				emit("load")
				emit("loadend")
			}
		})
		return goja.Undefined()
	})
	return nil
}

// newWebSocket always throws; the interceptor records the attempt.
func (p *page) newWebSocket(call goja.ConstructorCall) *goja.Object {
	target := call.Argument(0).String()
	_, err := p.ic.Intercept(p.ctx, SubRequest{URL: target, Type: TypeWebSocket})
	panic(p.vm.NewTypeError("%s", fmt.Sprintf("WebSocket connection to %q failed: %v", target, err)))
}
