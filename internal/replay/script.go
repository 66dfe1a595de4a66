package replay

import (
	"fmt"
	"os"
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/translate"
	"gopkg.in/yaml.v3"
)

// Event kinds accepted in a script.
const (
	KindNamed       = "named"
	KindService     = "service"
	KindXHRSent     = "xhr_sent"
	KindXHRComplete = "xhr_complete"
	KindError       = "error"
	KindAdjustStart = "adjust_start"
	KindKPIData     = "kpi_data"
)

// dropTranslation in a script's translations drops the event.
const dropTranslation = "-"

const defaultPageGap = time.Second

// Script is a sequence of page loads in one browser.
//
//	translations:
//	  tab_blur: "-"
//	pages:
//	  - lang: en
//	    screen: {width: 1280, height: 720}
//	    events:
//	      - {type: service, name: login}
//	      - {type: xhr_complete, method: POST, url: "/authn?next=%2Fhome", status: 401, after_ms: 800}
//	      - {type: error, code: INCORRECT_PASSWORD, status: 401}
//	  - continuation: true
//	    events:
//	      - {type: named, name: login_success, after_ms: 50}
type Script struct {
	// Translations renames events by name; "-" drops them.
	Translations map[string]string `yaml:"translations"`
	Pages        []Page            `yaml:"pages"`
}

// Page is one dialog page load.
type Page struct {
	Name          string        `yaml:"name"`
	Continuation  bool          `yaml:"continuation"`
	ForceSampling bool          `yaml:"force_sampling"`
	Lang          string        `yaml:"lang"`
	Screen        *ScriptScreen `yaml:"screen"`
	// GapMS advances the clock before the page loads; zero means one second.
	GapMS  int64         `yaml:"gap_ms"`
	Events []ScriptEvent `yaml:"events"`
}

// ScriptScreen is the page's screen size.
type ScriptScreen struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ScriptEvent describes one bus event. Which fields apply depends on Type.
type ScriptEvent struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	Method string `yaml:"method"`
	URL    string `yaml:"url"`
	Status int    `yaml:"status"`

	Code  string `yaml:"code"`
	Title string `yaml:"title"`

	// StartMS moves the session start relative to the page load.
	StartMS int64          `yaml:"start_ms"`
	Data    map[string]any `yaml:"data"`

	// AfterMS advances the clock before the event fires.
	AfterMS    int64  `yaml:"after_ms"`
	DurationMS *int64 `yaml:"duration_ms"`
}

// LoadScript reads and validates a YAML script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}
	return ParseScript(data)
}

// ParseScript parses and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}
	if len(s.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrScript)
	}
	for i, p := range s.Pages {
		for j, e := range p.Events {
			if err := e.validate(); err != nil {
				return nil, fmt.Errorf("%w: page %d event %d: %w", ErrScript, i, j, err)
			}
		}
	}
	return &s, nil
}

// Table converts the script's translations for the recorder.
func (s *Script) Table() translate.Table {
	if len(s.Translations) == 0 {
		return nil
	}
	t := make(translate.Table, len(s.Translations))
	for from, to := range s.Translations {
		if to == dropTranslation {
			t[from] = translate.Drop()
			continue
		}
		t[from] = translate.Rename(to)
	}
	return t
}

func (p Page) gap() time.Duration {
	if p.GapMS <= 0 {
		return defaultPageGap
	}
	return time.Duration(p.GapMS) * time.Millisecond
}

func (p Page) environment() model.Environment {
	env := model.Environment{Lang: p.Lang}
	if p.Screen != nil {
		env.ScreenSize = &model.ScreenSize{Width: p.Screen.Width, Height: p.Screen.Height}
	}
	return env
}

func (e ScriptEvent) validate() error {
	switch e.Type {
	case "", KindNamed, KindService:
		if e.Name == "" {
			return fmt.Errorf("%s event needs a name", e.kind())
		}
	case KindXHRSent, KindXHRComplete, KindError, KindAdjustStart, KindKPIData:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (e ScriptEvent) kind() string {
	if e.Type == "" {
		return KindNamed
	}
	return e.Type
}

// Event builds the bus event firing at at on a page loaded at pageStart.
func (e ScriptEvent) Event(at, pageStart time.Time) model.Event {
	meta := model.Meta{At: at}
	if e.DurationMS != nil {
		meta.Duration = model.DurationPtr(time.Duration(*e.DurationMS) * time.Millisecond)
	}

	switch e.kind() {
	case KindService:
		return model.ServiceShown{Meta: meta, Name: e.Name}
	case KindXHRSent:
		return model.XHRSent{Meta: meta, Method: e.Method, URL: e.URL}
	case KindXHRComplete:
		return model.XHRCompleted{Meta: meta, Method: e.Method, URL: e.URL, Status: e.Status}
	case KindError:
		return model.ErrorShown{Meta: meta, Code: e.Code, Title: e.Title, HTTPStatus: e.Status}
	case KindAdjustStart:
		return model.StartTimeAdjusted{
			Meta:      meta,
			StartTime: pageStart.Add(time.Duration(e.StartMS) * time.Millisecond),
		}
	case KindKPIData:
		return model.KPIData{Meta: meta, Data: e.Data}
	default:
		return model.Named{Meta: meta, Name: e.Name}
	}
}
