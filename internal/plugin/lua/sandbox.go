package lua

import (
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/plugin/security"
)

// HostModule is the name plugin code uses to require the host API.
// Submodules are addressed as "host.<name>".
const HostModule = "host"

// Sandbox restricts what plugin Lua code can reach. Module loading is
// whitelist-only, the loader builtins are removed, and the io module is
// a permission-gated replacement that charges file operations against
// the plugin's resource monitor.
type Sandbox struct {
	L       *lua.LState
	checker *security.Checker
	monitor *security.Monitor

	// root, when set, confines gated file access to this directory.
	root string
}

// NewSandbox creates a sandbox over the Lua state. The checker holds
// the plugin's granted permissions.
func NewSandbox(L *lua.LState, checker *security.Checker, monitor *security.Monitor) *Sandbox {
	return &Sandbox{L: L, checker: checker, monitor: monitor}
}

// SetRoot confines sandboxed file access to dir and its children.
func (s *Sandbox) SetRoot(dir string) {
	s.root = dir
}

// Checker returns the permission checker backing this sandbox.
func (s *Sandbox) Checker() *security.Checker {
	return s.checker
}

// Install applies the sandbox restrictions. Call once, before any
// plugin code runs.
func (s *Sandbox) Install() {
	// Chunk loaders would let plugin code escape the whitelist.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()

	if s.checker.Has(security.PermFilesystemRead) {
		s.injectFileAPI()
	}
}

// safeModules are gopher-lua builtins with no host access.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
	"bit32":  true,
	"utf8":   true,
}

// installSafeRequire replaces require with a whitelist version and
// clears package.path/cpath so nothing loads from disk. Only safe
// builtins and preloaded host modules resolve.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))

		// Drop anything pre-loaded beyond the safe builtins.
		if loaded, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var remove []string
			loaded.ForEach(func(k, _ lua.LValue) {
				ks, ok := k.(lua.LString)
				if !ok {
					return
				}
				name := string(ks)
				if !safeModules[name] && name != "_G" && name != "package" {
					remove = append(remove, name)
				}
			})
			for _, name := range remove {
				loaded.RawSetString(name, lua.LNil)
			}
		}
	}

	original := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		if !s.allowModule(name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}

		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// allowModule decides whether require may resolve a module name.
func (s *Sandbox) allowModule(name string) bool {
	if safeModules[name] {
		return true
	}
	// Host API modules are preloaded by the api registry.
	if name == HostModule || strings.HasPrefix(name, HostModule+".") {
		return true
	}
	return false
}

// injectFileAPI installs a replacement io module. Reads need
// filesystem:read (checked at install time); writes additionally need
// filesystem:write, checked per call since grants are fixed per load.
func (s *Sandbox) injectFileAPI() {
	mod := s.L.NewTable()

	s.L.SetField(mod, "read", s.L.NewFunction(func(L *lua.LState) int {
		path, err := s.resolvePath(L.CheckString(1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if !s.monitor.TryFileOp() {
			L.RaiseError("file operation rate limit exceeded")
			return 0
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(rerr.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))

	s.L.SetField(mod, "lines", s.L.NewFunction(func(L *lua.LState) int {
		path, err := s.resolvePath(L.CheckString(1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if !s.monitor.TryFileOp() {
			L.RaiseError("file operation rate limit exceeded")
			return 0
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			L.RaiseError("cannot open file: %s", rerr.Error())
			return 0
		}

		lines := splitLines(string(data))
		idx := 0
		L.Push(L.NewFunction(func(L *lua.LState) int {
			if idx >= len(lines) {
				return 0
			}
			L.Push(lua.LString(lines[idx]))
			idx++
			return 1
		}))
		return 1
	}))

	s.L.SetField(mod, "write", s.L.NewFunction(func(L *lua.LState) int {
		return s.writeFile(L, false)
	}))

	s.L.SetField(mod, "append", s.L.NewFunction(func(L *lua.LState) int {
		return s.writeFile(L, true)
	}))

	s.L.SetGlobal("io", mod)
}

// writeFile backs io.write and io.append.
func (s *Sandbox) writeFile(L *lua.LState, appendMode bool) int {
	if err := s.checker.Check(security.PermFilesystemWrite); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	path, err := s.resolvePath(L.CheckString(1))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	data := L.CheckString(2)

	if !s.monitor.TryFileOp() {
		L.RaiseError("file operation rate limit exceeded")
		return 0
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, oerr := os.OpenFile(path, flag, 0o644)
	if oerr != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(oerr.Error()))
		return 2
	}
	defer f.Close()

	n, werr := f.WriteString(data)
	if werr != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(werr.Error()))
		return 2
	}
	s.monitor.UpdateDiskUsage(int64(n))

	L.Push(lua.LTrue)
	return 1
}

// resolvePath applies the sandbox root to a plugin-supplied path and
// rejects traversal outside it.
func (s *Sandbox) resolvePath(p string) (string, error) {
	if s.root == "" {
		return p, nil
	}
	full := filepath.Join(s.root, p)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: p}
	}
	return full, nil
}

// PathError reports an attempt to reach outside the sandbox root.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return "path escapes plugin sandbox: " + e.Path
}

// splitLines splits on \n, trimming a trailing \r from each line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
