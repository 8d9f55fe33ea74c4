package frontend

import (
	"sync"

	"github.com/common-tools-interface/cti/internal/staging/elfdeps"
	"github.com/common-tools-interface/cti/shared/api"
)

// attributes backs set_attribute/get_attribute: an opaque, process-wide
// key-value store independent of any App/Session/Manifest, for callers that
// want to stash their own bookkeeping alongside a Frontend handle.
var (
	attributes   = map[string]string{}
	attributesMu sync.RWMutex
)

// SetAttribute records an opaque key/value pair.
func (f *Frontend) SetAttribute(key, value string) {
	attributesMu.Lock()
	defer attributesMu.Unlock()

	attributes[key] = value
}

// GetAttribute returns a previously set attribute and whether it exists.
func (f *Frontend) GetAttribute(key string) (string, bool) {
	attributesMu.RLock()
	defer attributesMu.RUnlock()

	v, ok := attributes[key]

	return v, ok
}

// ContainsSymbols reports whether path's symbol table defines every name in
// names.
func (f *Frontend) ContainsSymbols(path string, names []string) (bool, error) {
	ok, err := elfdeps.ContainsSymbols(path, names)
	if err != nil {
		return false, api.Wrap(api.KindStaging, err, "reading symbols from %q", path)
	}

	return ok, nil
}

// WLMTypeToString is the reentrant-friendly form of api.WLMType.String,
// exposed at the Frontend boundary for callers embedding this as a C-style
// library.
func (f *Frontend) WLMTypeToString(t api.WLMType) string { return t.String() }

// ErrorStrR is the reentrant form of ErrorStr: it writes the last error
// diagnostic into buf up to its capacity and returns the number of bytes
// written, for callers that cannot allocate.
func (f *Frontend) ErrorStrR(buf []byte) int {
	msg := f.ErrorStr()

	n := copy(buf, msg)

	return n
}
