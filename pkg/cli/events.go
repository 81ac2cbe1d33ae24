package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/bigrid/pkg/bigraph"
	"github.com/haivivi/bigrid/pkg/livepos"
)

// Theme defines the colors of event lines.
type Theme struct {
	Primary lipgloss.Color // event kind
	Accent  lipgloss.Color // source and keys
	Dim     lipgloss.Color // timestamps
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Accent:  lipgloss.Color("#ffb86c"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Kind   lipgloss.Style
	Source lipgloss.Style
	Time   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Kind:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Width(8),
		Source: lipgloss.NewStyle().Foreground(t.Accent),
		Time:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// EventPrinter is a livepos.World that prints one line per event.
type EventPrinter struct {
	// W defaults to os.Stdout.
	W io.Writer

	Styles Styles

	// Now stamps each line; nil omits the timestamp.
	Now func() time.Time

	mu sync.Mutex
}

// NewEventPrinter returns a printer writing to w with the default theme and
// wall clock timestamps.
func NewEventPrinter(w io.Writer) *EventPrinter {
	return &EventPrinter{W: w, Styles: NewStyles(DefaultTheme), Now: time.Now}
}

// SetCells prints the loaded grid.
func (p *EventPrinter) SetCells(cells []bigraph.Cell) {
	p.line("grid", fmt.Sprintf("%d cells", len(cells)))
	for _, c := range cells {
		p.line("cell", fmt.Sprintf("#%d %s %s", c.Index, p.Styles.Source.Render(c.Locale), c.Point))
	}
}

// MoveLive prints a position update.
func (p *EventPrinter) MoveLive(u livepos.Update) {
	p.line("move", fmt.Sprintf("%s ch=%d [%g %g %g]",
		p.Styles.Source.Render(u.Source.String()), u.Channel,
		u.Position[0], u.Position[1], u.Position[2]))
}

// Control prints a control action.
func (p *EventPrinter) Control(c livepos.Control) {
	switch c := c.(type) {
	case *livepos.BlinkStart:
		p.line("blink", fmt.Sprintf("start %s %s", p.Styles.Source.Render(c.Key), c.Color))
	case *livepos.BlinkStop:
		p.line("blink", fmt.Sprintf("stop %s", p.Styles.Source.Render(c.Key)))
	default:
		p.line("control", c.Action())
	}
}

func (p *EventPrinter) line(kind, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.W
	if w == nil {
		w = os.Stdout
	}
	prefix := ""
	if p.Now != nil {
		prefix = p.Styles.Time.Render(p.Now().Format("15:04:05.000")) + " "
	}
	fmt.Fprintln(w, prefix+p.Styles.Kind.Render(kind)+" "+text)
}

var _ livepos.World = (*EventPrinter)(nil)
