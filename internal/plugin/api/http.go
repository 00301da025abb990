package api

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// HTTPModule implements host.http. Injected only for plugins holding
// network:http; the client's rate limiter throttles per-plugin
// request volume.
type HTTPModule struct {
	client *service.HTTPClient
}

// NewHTTPModule creates the http module for a plugin.
func NewHTTPModule(ctx *Context, _ string) *HTTPModule {
	return &HTTPModule{client: ctx.HTTP}
}

func (m *HTTPModule) Name() string { return "http" }

func (m *HTTPModule) RequiredPermission() security.Permission {
	return security.PermNetworkHTTP
}

// Register installs get/post/request into the Lua state.
func (m *HTTPModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "post", L.NewFunction(m.post))
	L.SetField(mod, "request", L.NewFunction(m.request))

	L.SetGlobal("_host_http", mod)
	return nil
}

// get(url, headers?) -> response table or nil, error
func (m *HTTPModule) get(L *lua.LState) int {
	url := L.CheckString(1)
	headers := m.optHeaders(L, 2)

	resp, err := m.client.Get(context.Background(), url, headers)
	return m.push(L, resp, err)
}

// post(url, body, headers?) -> response table or nil, error
func (m *HTTPModule) post(L *lua.LState) int {
	url := L.CheckString(1)
	body := L.CheckString(2)
	headers := m.optHeaders(L, 3)

	resp, err := m.client.Post(context.Background(), url, headers, body)
	return m.push(L, resp, err)
}

// request(method, url, body?, headers?) -> response table or nil, error
func (m *HTTPModule) request(L *lua.LState) int {
	method := L.CheckString(1)
	url := L.CheckString(2)
	body := L.OptString(3, "")
	headers := m.optHeaders(L, 4)

	resp, err := m.client.Do(context.Background(), method, url, headers, body)
	return m.push(L, resp, err)
}

// optHeaders reads an optional header table argument.
func (m *HTTPModule) optHeaders(L *lua.LState, idx int) map[string]string {
	if L.GetTop() < idx {
		return nil
	}
	tbl, ok := L.Get(idx).(*lua.LTable)
	if !ok {
		return nil
	}

	headers := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			headers[string(ks)] = v.String()
		}
	})
	return headers
}

// push converts a response (or error) to Lua return values.
func (m *HTTPModule) push(L *lua.LState, resp *service.Response, err error) int {
	if err != nil {
		if errors.Is(err, service.ErrHTTPRateLimited) {
			L.Push(lua.LNil)
			L.Push(lua.LString("rate limited"))
			return 2
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LNumber(resp.Status))
	L.SetField(tbl, "body", lua.LString(resp.Body))
	L.SetField(tbl, "headers", hlua.ToLua(L, resp.Headers))

	L.Push(tbl)
	return 1
}
