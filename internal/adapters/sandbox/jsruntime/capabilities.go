package jsruntime

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

type capability func(r *run) goja.Value

// capabilities is everything require can hand out. Anything else raises a
// CapabilityError naming the requested module.
var capabilities = map[string]capability{
	"browser":    (*run).controllerModule,
	"playwright": (*run).controllerModule,
	"controller": (*run).controllerModule,
	"contexts":   (*run).contextsModule,
	"path":       (*run).pathModule,
	"url":        (*run).urlModule,
	"crypto":     (*run).cryptoModule,
	"buffer":     (*run).bufferModule,
	"timers":     (*run).timersModule,
	"os":         (*run).osModule,
	"util":       (*run).utilModule,
}

func Capabilities() []string {
	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *run) module(fns map[string]any) goja.Value {
	obj := r.vm.NewObject()
	for name, fn := range fns {
		_ = obj.Set(name, fn)
	}
	return obj
}

func (r *run) pathModule() goja.Value {
	return r.module(map[string]any{
		"join": func(parts ...string) string {
			return path.Join(parts...)
		},
		"basename": func(p string, ext string) string {
			base := path.Base(p)
			if ext != "" && base != ext {
				base = strings.TrimSuffix(base, ext)
			}
			return base
		},
		"dirname":   path.Dir,
		"extname":   path.Ext,
		"normalize": path.Clean,
	})
}

func (r *run) urlModule() goja.Value {
	return r.module(map[string]any{
		"parse": func(raw string) (map[string]any, error) {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, err
			}
			return urlFields(u), nil
		},
		"resolve": func(base, ref string) (string, error) {
			b, err := url.Parse(base)
			if err != nil {
				return "", err
			}
			rel, err := url.Parse(ref)
			if err != nil {
				return "", err
			}
			return b.ResolveReference(rel).String(), nil
		},
	})
}

func urlFields(u *url.URL) map[string]any {
	fields := map[string]any{
		"href":     u.String(),
		"protocol": "",
		"host":     u.Host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": u.EscapedPath(),
		"search":   "",
		"hash":     "",
	}
	if u.Scheme != "" {
		fields["protocol"] = u.Scheme + ":"
	}
	if u.RawQuery != "" {
		fields["search"] = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		fields["hash"] = "#" + u.EscapedFragment()
	}
	if fields["pathname"] == "" && u.Host != "" {
		fields["pathname"] = "/"
	}
	return fields
}

func (r *run) cryptoModule() goja.Value {
	return r.module(map[string]any{
		"randomUUID": uuid.NewString,
		"sha256": func(value goja.Value) string {
			sum := sha256.Sum256(r.bytesOf(value))
			return hex.EncodeToString(sum[:])
		},
		"md5": func(value goja.Value) string {
			sum := md5.Sum(r.bytesOf(value))
			return hex.EncodeToString(sum[:])
		},
	})
}

func (r *run) bufferModule() goja.Value {
	return r.module(map[string]any{
		"toBase64": func(value goja.Value) string {
			return base64.StdEncoding.EncodeToString(r.bytesOf(value))
		},
		"fromBase64": func(encoded string) (string, error) {
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return "", err
			}
			return string(decoded), nil
		},
		"byteLength": func(value goja.Value) int {
			return len(r.bytesOf(value))
		},
	})
}

func (r *run) timersModule() goja.Value {
	return r.module(map[string]any{
		"sleep": func(ms int64) error {
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()

			select {
			case <-timer.C:
				return nil
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
		},
	})
}

func (r *run) osModule() goja.Value {
	return r.module(map[string]any{
		"platform": func() string {
			if runtime.GOOS == "windows" {
				return "win32"
			}
			return runtime.GOOS
		},
		"hostname": os.Hostname,
		"tmpdir":   os.TempDir,
	})
}

func (r *run) utilModule() goja.Value {
	return r.module(map[string]any{
		"format": func(call goja.FunctionCall) goja.Value {
			return r.vm.ToValue(r.format(call.Arguments))
		},
	})
}

// bytesOf accepts strings, ArrayBuffers and byte arrays.
func (r *run) bytesOf(value goja.Value) []byte {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	switch exported := value.Export().(type) {
	case goja.ArrayBuffer:
		return exported.Bytes()
	case []byte:
		return exported
	case string:
		return []byte(exported)
	default:
		return []byte(value.String())
	}
}

// format mirrors node's util.format for %s, %d, %i, %j and %%.
func (r *run) format(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}

	rest := args
	var b strings.Builder
	if first, ok := args[0].Export().(string); ok && strings.Contains(first, "%") {
		rest = args[1:]
		for i := 0; i < len(first); i++ {
			c := first[i]
			if c != '%' || i+1 == len(first) {
				b.WriteByte(c)
				continue
			}
			verb := first[i+1]
			if verb == '%' {
				b.WriteByte('%')
				i++
				continue
			}
			if !strings.ContainsRune("sdij", rune(verb)) || len(rest) == 0 {
				b.WriteByte(c)
				continue
			}
			arg := rest[0]
			rest = rest[1:]
			i++
			switch verb {
			case 's':
				b.WriteString(r.inspect(arg))
			case 'd':
				b.WriteString(strconv.FormatFloat(arg.ToFloat(), 'f', -1, 64))
			case 'i':
				b.WriteString(strconv.FormatInt(arg.ToInteger(), 10))
			case 'j':
				b.WriteString(r.stringify(arg))
			}
		}
	} else {
		b.WriteString(r.inspect(args[0]))
		rest = args[1:]
	}

	for _, arg := range rest {
		b.WriteByte(' ')
		b.WriteString(r.inspect(arg))
	}
	return b.String()
}

func (r *run) inspect(value goja.Value) string {
	if obj, ok := value.(*goja.Object); ok {
		if _, callable := goja.AssertFunction(obj); !callable && obj.ClassName() != "Error" {
			return r.stringify(obj)
		}
	}
	return value.String()
}

func (r *run) stringify(value goja.Value) string {
	stringify, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		return value.String()
	}
	out, err := stringify(goja.Undefined(), value)
	if err != nil || goja.IsUndefined(out) {
		return fmt.Sprint(value.Export())
	}
	return out.String()
}
