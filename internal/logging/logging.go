// Package logging configures the default slog logger.
//
// Under systemd (stderr connected to the journal) records are sent to
// journald with native priorities. Otherwise they go to stderr as text.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"golang.org/x/term"
)

// Setup installs the default logger. debug lowers the level to Debug.
func Setup(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var h slog.Handler
	if inJournal() {
		h = NewJournalHandler(level)
	} else {
		h = NewTextHandler(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))
	}
	slog.SetDefault(slog.New(h))
}

func inJournal() bool {
	ok, err := journal.StderrIsJournalStream()
	return err == nil && ok && journal.Enabled()
}

// NewTextHandler returns a text handler on w. Interactive terminals get no
// timestamp.
func NewTextHandler(w io.Writer, level slog.Level, interactive bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if interactive {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	return slog.NewTextHandler(w, opts)
}

// JournalHandler sends records to journald. Attributes become upper-cased
// journal fields.
type JournalHandler struct {
	level  slog.Level
	attrs  []slog.Attr
	prefix string
	send   func(message string, priority journal.Priority, vars map[string]string) error
}

var _ slog.Handler = (*JournalHandler)(nil)

// NewJournalHandler returns a handler writing to the default journald socket.
func NewJournalHandler(level slog.Level) *JournalHandler {
	return &JournalHandler{level: level, send: journal.Send}
}

func (h *JournalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.attrs)+r.NumAttrs()+1)
	fields["SYSLOG_IDENTIFIER"] = "fdb-transient-clusterfile"
	for _, a := range h.attrs {
		addField(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, h.prefix, a)
		return true
	})
	return h.send(r.Message, Priority(r.Level), fields)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "_"
	return &nh
}

func addField(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addField(fields, prefix+a.Key+"_", ga)
		}
		return
	}
	fields[fieldName(prefix+a.Key)] = a.Value.String()
}

// fieldName maps an attribute key to a valid journal field name: upper case
// letters, digits and underscores, not starting with an underscore.
func fieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "F_" + name
	}
	return name
}

// Priority maps a slog level to a syslog priority.
func Priority(l slog.Level) journal.Priority {
	switch {
	case l >= slog.LevelError:
		return journal.PriErr
	case l >= slog.LevelWarn:
		return journal.PriWarning
	case l >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
