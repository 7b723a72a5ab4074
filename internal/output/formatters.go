// Package output renders fetch results for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

var numbers = message.NewPrinter(language.English)

// Indicator describes where a result's data came from.
func Indicator(res fetcher.Result, loc *time.Location) string {
	switch res.Kind {
	case fetcher.KindLive:
		return "Updated " + core.FormatClock(res.FetchedAt, loc)
	case fetcher.KindCached:
		return fmt.Sprintf("Cached %s (as of %s ago)", core.FormatClock(res.FetchedAt, loc), core.FormatAge(res.Age))
	default:
		return "Demo data (retrying live feed…)"
	}
}

// FormatPrice renders v as US dollars with thousands separators.
func FormatPrice(v float64) string {
	if v < 0 {
		return numbers.Sprintf("-$%.2f", -v)
	}
	return numbers.Sprintf("$%.2f", v)
}

// FormatChange renders a signed percentage such as "+1.12%".
func FormatChange(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f%%", v)
	}
	return fmt.Sprintf("%.2f%%", v)
}

var bars = []rune("▁▂▃▄▅▆▇█")

// Bars draws points as a one-line unicode sparkline.
func Bars(points []float64) string {
	if len(points) == 0 {
		return ""
	}
	lo, hi := points[0], points[0]
	for _, p := range points {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	var b strings.Builder
	for _, p := range points {
		idx := len(bars) / 2
		if hi > lo {
			idx = int(math.Round((p - lo) / (hi - lo) * float64(len(bars)-1)))
		}
		b.WriteRune(bars[idx])
	}
	return b.String()
}

// envelope is the --raw representation of a fetch result.
type envelope struct {
	Kind      string          `json:"kind"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
	AgeMillis int64           `json:"ageMillis,omitempty"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func newEnvelope(res fetcher.Result) envelope {
	env := envelope{
		Kind:      res.Kind.String(),
		AgeMillis: res.Age.Milliseconds(),
		Attempts:  res.Attempts,
		Payload:   res.Payload,
	}
	if !res.FetchedAt.IsZero() {
		t := res.FetchedAt.UTC()
		env.FetchedAt = &t
	}
	if res.Err != nil {
		env.Error = res.Err.Error()
	}
	return env
}

// WriteRaw writes res as a single compact JSON line.
func WriteRaw(w io.Writer, res fetcher.Result) error {
	data, err := json.Marshal(newEnvelope(res))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteRawKeyed writes several results as one JSON object keyed by name.
func WriteRawKeyed(w io.Writer, results map[string]fetcher.Result) error {
	out := make(map[string]envelope, len(results))
	for k, res := range results {
		out[k] = newEnvelope(res)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
