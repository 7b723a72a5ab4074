package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/colthorp/marketfeed-go/internal/feed"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

// Printer renders feed views to a terminal. Colours are dropped
// automatically when w is not a terminal.
type Printer struct {
	w   io.Writer
	loc *time.Location

	title lipgloss.Style
	muted lipgloss.Style
	up    lipgloss.Style
	down  lipgloss.Style
	warn  lipgloss.Style
}

// NewPrinter creates a Printer writing to w with timestamps in loc.
func NewPrinter(w io.Writer, loc *time.Location) *Printer {
	if loc == nil {
		loc = time.Local
	}
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		loc:   loc,
		title: r.NewStyle().Bold(true),
		muted: r.NewStyle().Foreground(lipgloss.Color("245")),
		up:    r.NewStyle().Foreground(lipgloss.Color("2")),
		down:  r.NewStyle().Foreground(lipgloss.Color("1")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

func (p *Printer) header(name string, res fetcher.Result) {
	style := p.muted
	if res.IsFallback() {
		style = p.warn
	}
	fmt.Fprintf(p.w, "%s  %s\n", p.title.Render(name), style.Render(Indicator(res, p.loc)))
}

func (p *Printer) change(v float64) string {
	if v >= 0 {
		return p.up.Render(FormatChange(v))
	}
	return p.down.Render(FormatChange(v))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...)
}

// Ticker renders the crypto ticker.
func (p *Printer) Ticker(v feed.TickerView) {
	p.header("Market ticker", v.Result)
	t := newTable("SYMBOL", "PRICE", "24H")
	for _, a := range v.Assets {
		t.Row(a.Symbol, FormatPrice(a.Price), p.change(a.Change24h))
	}
	fmt.Fprintln(p.w, t.String())
}

// Stocks renders the stock tracker with per-row movement markers.
func (p *Printer) Stocks(v feed.StocksView) {
	p.header("Stock tracker", v.Result)
	t := newTable("SYMBOL", "PRICE", "CHANGE", "DAY RANGE", "")
	for _, q := range v.Quotes {
		t.Row(
			q.Symbol,
			FormatPrice(q.Price),
			p.change(q.ChangePercent),
			FormatPrice(q.DayLow)+" - "+FormatPrice(q.DayHigh),
			p.direction(q.Direction),
		)
	}
	fmt.Fprintln(p.w, t.String())
	fmt.Fprintf(p.w, "Average %s\n", p.change(v.AvgChange))
}

func (p *Printer) direction(d feed.Direction) string {
	switch d {
	case feed.Up:
		return p.up.Render("▲")
	case feed.Down:
		return p.down.Render("▼")
	default:
		return ""
	}
}

// Sparklines renders one row per symbol.
func (p *Printer) Sparklines(series []feed.Series) {
	t := newTable("SYMBOL", "HISTORY", "LAST", "SOURCE")
	for _, s := range series {
		last := ""
		if n := len(s.Points); n > 0 {
			last = FormatPrice(s.Points[n-1])
		}
		source := p.muted.Render(Indicator(s.Result, p.loc))
		if s.Result.IsFallback() {
			source = p.warn.Render(Indicator(s.Result, p.loc))
		}
		t.Row(s.Symbol, Bars(s.Points), last, source)
	}
	fmt.Fprintln(p.w, t.String())
}

// Result renders a generic fetch result: the indicator followed by the
// indented payload.
func (p *Printer) Result(name string, res fetcher.Result) error {
	p.header(name, res)
	var buf bytes.Buffer
	if err := json.Indent(&buf, res.Payload, "", "  "); err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	_, err := fmt.Fprintln(p.w, buf.String())
	return err
}
