// Package translate maps bus event names to reporting category names.
package translate

import (
	"context"
	"maps"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/logger"
)

// MalformedXHR is reported for completion events lacking method or URL.
const MalformedXHR = "xhr.malformed_report"

// Kind tags an Entry.
type Kind uint8

// Entry kinds.
const (
	KindPassThrough Kind = iota
	KindRename
	KindCompute
)

// ComputeFunc derives a reporting name from the event. Returning false
// drops the event.
type ComputeFunc func(ev model.Event) (string, bool)

// Entry is one row of the translation table.
type Entry struct {
	kind    Kind
	name    string
	compute ComputeFunc
}

// PassThrough reports the event under its own name.
func PassThrough() Entry { return Entry{kind: KindPassThrough} }

// Rename reports the event as name.
func Rename(name string) Entry { return Entry{kind: KindRename, name: name} }

// Compute reports whatever fn returns.
func Compute(fn ComputeFunc) Entry { return Entry{kind: KindCompute, compute: fn} }

// Drop discards the event.
func Drop() Entry {
	return Compute(func(model.Event) (string, bool) { return "", false })
}

// Kind returns the entry's tag.
func (e Entry) Kind() Kind { return e.kind }

func (e Entry) apply(ev model.Event) (string, bool) {
	switch e.kind {
	case KindRename:
		return e.name, true
	case KindCompute:
		if e.compute == nil {
			return "", false
		}
		return e.compute(ev)
	default:
		return ev.EventName(), true
	}
}

// Table maps bus event names to entries.
type Table map[string]Entry

// DefaultTable returns the built-in translations.
func DefaultTable() Table {
	return Table{
		model.EventService:         Compute(screenName),
		model.EventXHRComplete:     Compute(xhrName),
		model.EventErrorScreen:     Compute(errorScreenName),
		model.EventXHRSent:         Drop(),
		model.EventKPIData:         Drop(),
		model.EventAdjustStartTime: Drop(),
		model.EventTabFocus:        Rename("focus"),
		model.EventTabBlur:         Rename("blur"),
	}
}

// Translator resolves reporting names. It is safe for concurrent use.
type Translator struct {
	mu     sync.RWMutex
	table  Table
	strict bool
	logger logger.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithTable replaces the default table.
func WithTable(t Table) Option {
	return func(tr *Translator) {
		if t != nil {
			tr.table = maps.Clone(t)
		}
	}
}

// WithStrict logs names missing from the table at debug level. The
// translation result is unchanged.
func WithStrict(l logger.Logger) Option {
	return func(tr *Translator) {
		if l != nil {
			tr.strict = true
			tr.logger = l
		}
	}
}

// New builds a Translator over DefaultTable.
func New(opts ...Option) *Translator {
	tr := &Translator{table: DefaultTable()}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Translate returns the reporting name for ev, or false when the event
// must not be recorded. Names without an entry pass through unchanged.
func (t *Translator) Translate(ev model.Event) (string, bool) {
	name := ev.EventName()

	t.mu.RLock()
	entry, ok := t.table[name]
	t.mu.RUnlock()

	if !ok {
		if t.strict {
			t.logger.Debug(context.Background(), "no translation entry, passing through", logger.String("event", name))
		}
		return name, true
	}
	return entry.apply(ev)
}

// Override replaces or adds entries.
func (t *Translator) Override(entries Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.table, entries)
}

// Reset restores DefaultTable.
func (t *Translator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table = DefaultTable()
}

func screenName(ev model.Event) (string, bool) {
	s, ok := ev.(model.ServiceShown)
	if !ok || s.Name == "" {
		return "", false
	}
	return "screen." + s.Name, true
}

func xhrName(ev model.Event) (string, bool) {
	x, ok := ev.(model.XHRCompleted)
	if !ok || x.Method == "" || x.URL == "" {
		return MalformedXHR, true
	}
	return "xhr." + strings.ToUpper(x.Method) + stripQuery(x.URL), true
}

// stripQuery drops the query string and fragment, keeping the path.
func stripQuery(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// knownErrors maps error codes the dialog understands to their kind.
var knownErrors = map[string]string{ //nolint:gochecknoglobals // static lookup table
	"invalid_credentials":  "invalid_credentials",
	"INCORRECT_PASSWORD":   "invalid_credentials",
	"UNKNOWN_USER":         "unknown_user",
	"ACCOUNT_LOCKED":       "account_locked",
	"SERVER_ERROR":         "server",
	"NETWORK_ERROR":        "network",
	"IDP_UNAVAILABLE":      "idp_unavailable",
	"COOKIES_DISABLED":     "cookies_disabled",
	"UNSUPPORTED_BROWSER":  "unsupported_browser",
	"CONTINUATION_EXPIRED": "continuation_expired",
}

const httpErrorThreshold = 400

func errorScreenName(ev model.Event) (string, bool) {
	e, _ := ev.(model.ErrorShown)

	kind := knownErrors[e.Code]
	if kind == "" {
		kind = e.Title
	}
	hasStatus := e.HTTPStatus >= httpErrorThreshold
	if kind == "" && !hasStatus {
		return "screen.error.unknown", true
	}
	if kind == "" {
		kind = "unknown"
	}

	name := "screen.error." + kind
	if hasStatus {
		name += "." + strconv.Itoa(e.HTTPStatus)
	}
	return name, true
}
