package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// eventRecord is one observed room event.
type eventRecord struct {
	Time    time.Time `json:"time" yaml:"time"`
	Room    string    `json:"room" yaml:"room"`
	Event   string    `json:"event" yaml:"event"`
	Source  string    `json:"source,omitempty" yaml:"source,omitempty"`
	Payload string    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func (r eventRecord) String() string {
	s := fmt.Sprintf("%s [%s] %s", r.Time.Format("15:04:05"), r.Room, r.Event)
	if r.Source != "" {
		s += " from " + r.Source
	}
	if r.Payload != "" {
		s += ": " + r.Payload
	}
	return s
}

// printer writes values in one output format. It is safe for concurrent use.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case formatText, formatJSON, formatYAML:
		return &printer{w: w, format: format}, nil
	}
	return nil, errors.Errorf("unknown format %q (want text, json or yaml)", format)
}

// Print writes v. The text format uses v's String method.
func (p *printer) Print(v fmt.Stringer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case formatJSON:
		return json.NewEncoder(p.w).Encode(v)
	case formatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "marshal yaml")
		}
		if _, err := io.WriteString(p.w, "---\n"); err != nil {
			return err
		}
		_, err = p.w.Write(out)
		return err
	default:
		_, err := fmt.Fprintln(p.w, v.String())
		return err
	}
}
