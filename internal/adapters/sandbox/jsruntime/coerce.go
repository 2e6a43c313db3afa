package jsruntime

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
)

const (
	reservedSessionKey = "__sessionId"
	maxExportDepth     = 64
)

// coerceResult turns whatever the fragment returned into channels. A plain
// object is the expected shape; anything else lands on the default channel.
func (r *run) coerceResult(value goja.Value) domain.Result {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return domain.Result{Channels: []domain.ChannelOutput{{Channel: domain.DefaultChannel, Records: domain.Batch{}}}}
	}

	obj, ok := value.(*goja.Object)
	if ok && isPlainObject(obj) {
		var result domain.Result
		for _, key := range obj.Keys() {
			if key == reservedSessionKey {
				continue
			}
			channel := obj.Get(key)
			if _, callable := goja.AssertFunction(channel); callable {
				continue
			}
			result.Channels = append(result.Channels, domain.ChannelOutput{Channel: key, Records: r.coerceBatch(channel)})
		}
		return result
	}

	r.logger.Debug("fragment returned a non-mapping value", zap.Error(domain.ErrMalformedResult))
	if ok && obj.ClassName() == "Array" {
		return domain.Result{Channels: []domain.ChannelOutput{{Channel: domain.DefaultChannel, Records: r.coerceBatch(obj)}}}
	}
	record := domain.NewRecord(map[string]any{"result": r.exportValue(value, 0)})
	return domain.Result{Channels: []domain.ChannelOutput{{Channel: domain.DefaultChannel, Records: domain.Batch{record}}}}
}

func (r *run) coerceBatch(value goja.Value) domain.Batch {
	obj, ok := value.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return domain.Batch{r.coerceRecord(value)}
	}

	length := obj.Get("length").ToInteger()
	batch := make(domain.Batch, 0, length)
	for i := int64(0); i < length; i++ {
		batch = append(batch, r.coerceRecord(obj.Get(strconv.FormatInt(i, 10))))
	}
	return batch
}

func (r *run) coerceRecord(value goja.Value) domain.Record {
	obj, ok := value.(*goja.Object)
	if !ok || !isPlainObject(obj) {
		return domain.NewRecord(map[string]any{"value": r.exportValue(value, 0)})
	}

	if !slices.Contains(obj.Keys(), "data") {
		return domain.NewRecord(r.exportObject(obj, 0))
	}

	record := domain.NewRecord(nil)
	data := obj.Get("data")
	if dataObj, ok := data.(*goja.Object); ok && isPlainObject(dataObj) {
		record.Data = r.exportObject(dataObj, 0)
	} else {
		record.Data = map[string]any{"value": r.exportValue(data, 0)}
	}
	if attachments, ok := obj.Get("attachments").(*goja.Object); ok && isPlainObject(attachments) {
		record.Attachments = r.exportObject(attachments, 0)
	}
	return record
}

// exportValue converts a JS value to plain Go data: maps, slices, strings,
// numbers, bools, byte slices and times. Functions are dropped.
func (r *run) exportValue(value goja.Value, depth int) any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) || depth > maxExportDepth {
		return nil
	}

	obj, ok := value.(*goja.Object)
	if !ok {
		return value.Export()
	}
	if _, callable := goja.AssertFunction(obj); callable {
		return nil
	}

	if isPlainObject(obj) {
		return r.exportObject(obj, depth)
	}

	switch obj.ClassName() {
	case "Array":
		length := obj.Get("length").ToInteger()
		out := make([]any, 0, length)
		for i := int64(0); i < length; i++ {
			out = append(out, r.exportValue(obj.Get(strconv.FormatInt(i, 10)), depth+1))
		}
		return out
	case "Error":
		return map[string]any{
			"name":    obj.Get("name").String(),
			"message": obj.Get("message").String(),
		}
	}

	switch exported := obj.Export().(type) {
	case goja.ArrayBuffer:
		return exported.Bytes()
	case []byte:
		return exported
	case time.Time:
		return exported
	}
	return r.exportObject(obj, depth)
}

var plainObjectType = reflect.TypeOf(map[string]any(nil))

// isPlainObject tells object literals apart from ArrayBuffers, typed arrays
// and dates, which share the "Object" class.
func isPlainObject(obj *goja.Object) bool {
	return obj.ClassName() == "Object" && obj.ExportType() == plainObjectType
}

func (r *run) exportObject(obj *goja.Object, depth int) map[string]any {
	out := map[string]any{}
	if depth > maxExportDepth {
		return out
	}
	for _, key := range obj.Keys() {
		field := obj.Get(key)
		if _, callable := goja.AssertFunction(field); callable {
			continue
		}
		out[key] = r.exportValue(field, depth+1)
	}
	return out
}

// toJS builds native JS values so fragments see ordinary objects and arrays
// rather than wrapped Go maps.
func (r *run) toJS(value any) goja.Value {
	switch v := value.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return v
	case map[string]any:
		obj := r.vm.NewObject()
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			_ = obj.Set(key, r.toJS(v[key]))
		}
		return obj
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[toKey(key)] = item
		}
		return r.toJS(converted)
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			items = append(items, r.toJS(item))
		}
		return r.vm.NewArray(items...)
	case []byte:
		return r.vm.ToValue(r.vm.NewArrayBuffer(v))
	default:
		return r.vm.ToValue(v)
	}
}

func toKey(key any) string {
	if k, ok := key.(string); ok {
		return k
	}
	return fmt.Sprint(key)
}
