package digest

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	texttemplate "text/template"
	"time"

	"github.com/naveenchhikara/aegis-notify/internal/mailer"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/digest.html.tmpl"))
	textTmpl = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/digest.txt.tmpl"))
)

// Compiler folds a recipient's pending events into one consolidated
// message. It reads events and resolves addresses; it never sends and
// never marks anything consumed.
type Compiler struct {
	store *store.Store
	dir   mailer.Directory
	log   logx.Logger
}

func NewCompiler(st *store.Store, dir mailer.Directory, log logx.Logger) *Compiler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Compiler{store: st, dir: dir, log: log}
}

// Compile selects the recipient's unconsumed events with the given cadence
// inside [windowStart, windowEnd), groups them by batch key, and renders
// one message. A window with zero eligible events returns (nil, nil): an
// empty digest is a no-op, not an error.
func (c *Compiler) Compile(ctx context.Context, recipientID string, windowStart, windowEnd time.Time, cadence notify.Cadence) (*Compiled, error) {
	events, err := c.store.PendingEvents(ctx, recipientID, cadence, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	sections, ids := c.buildSections(recipientID, events)
	if len(sections) == 0 {
		// Every group was malformed. Logged above; nothing to send.
		return nil, nil
	}

	heading := headingFor(cadence, len(ids))
	return c.render(ctx, recipientID, heading, sections, ids)
}

// CompileSingle renders one event as an immediate message: one section,
// one item, same templates as the digests.
func (c *Compiler) CompileSingle(ctx context.Context, ev store.Event) (*Compiled, error) {
	sections, ids := c.buildSections(ev.RecipientID, []store.Event{ev})
	if len(sections) == 0 {
		return nil, fmt.Errorf("event %s has a malformed payload", ev.ID)
	}
	heading := sections[0].Title
	if len(sections[0].Items) > 0 && sections[0].Items[0].Title != "" {
		heading = sections[0].Items[0].Title
	}
	return c.render(ctx, ev.RecipientID, heading, sections, ids)
}

// buildSections groups events by batch key and orders the sections by kind
// priority, then by earliest event ascending. Event order inside a section
// follows the store's created-ascending order. Malformed groups are skipped
// so one bad payload cannot blank the whole digest.
func (c *Compiler) buildSections(recipientID string, events []store.Event) ([]Section, []string) {
	byKey := map[string]*Section{}
	order := []string{}
	grouped := map[string][]store.Event{}

	for _, ev := range events {
		if _, ok := grouped[ev.BatchKey]; !ok {
			order = append(order, ev.BatchKey)
		}
		grouped[ev.BatchKey] = append(grouped[ev.BatchKey], ev)
	}

	var ids []string
	for _, key := range order {
		group := grouped[key]
		sec, groupIDs, err := buildSection(key, group)
		if err != nil {
			c.log.Warn("skipping malformed digest group",
				logx.String("recipient", recipientID),
				logx.String("batch_key", key),
				logx.Err(err))
			continue
		}
		byKey[key] = sec
		ids = append(ids, groupIDs...)
	}

	sections := make([]Section, 0, len(byKey))
	for _, key := range order {
		if sec, ok := byKey[key]; ok {
			sections = append(sections, *sec)
		}
	}
	sort.SliceStable(sections, func(i, j int) bool {
		pi, pj := sections[i].Kind.Priority(), sections[j].Kind.Priority()
		if pi != pj {
			return pi < pj
		}
		return sections[i].earliest.Before(sections[j].earliest)
	})
	return sections, ids
}

func buildSection(key string, group []store.Event) (*Section, []string, error) {
	sec := &Section{
		Key:      key,
		Kind:     group[0].Kind,
		Title:    group[0].Kind.Title(),
		earliest: group[0].CreatedAt,
	}
	var ids []string
	for i, ev := range group {
		p, err := decodePayload(ev.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if ev.CreatedAt.Before(sec.earliest) {
			sec.earliest = ev.CreatedAt
		}
		ids = append(ids, ev.ID)
		if i >= SectionCap {
			sec.More++
			continue
		}
		title := p.Title
		if title == "" {
			title = string(ev.Kind)
		}
		sec.Items = append(sec.Items, Item{
			Title:   title,
			Summary: p.Summary,
			URL:     p.URL,
			At:      ev.CreatedAt,
		})
	}
	return sec, ids, nil
}

type templateData struct {
	Heading  string
	Sections []Section
}

func (c *Compiler) render(ctx context.Context, recipientID, heading string, sections []Section, ids []string) (*Compiled, error) {
	to, err := c.dir.EmailFor(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolving address for %s: %w", recipientID, err)
	}

	data := templateData{Heading: heading, Sections: sections}

	var html bytes.Buffer
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}
	var text bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("rendering text body: %w", err)
	}

	return &Compiled{
		Message: mailer.Message{
			To:       to,
			Subject:  heading,
			HTMLBody: html.String(),
			TextBody: text.String(),
		},
		EventIDs: ids,
	}, nil
}

func headingFor(cadence notify.Cadence, n int) string {
	label := "Audit activity digest"
	switch cadence {
	case notify.CadenceDaily:
		label = "Daily audit digest"
	case notify.CadenceWeekly:
		label = "Weekly audit digest"
	}
	return fmt.Sprintf("%s: %d update%s", label, n, plural(n))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
