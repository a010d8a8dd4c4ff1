package deploy

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Printer writes human status lines
type Printer struct {
	w      io.Writer
	step   *color.Color
	ok     *color.Color
	fail   *color.Color
	header *color.Color
}

func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:      w,
		step:   color.New(color.FgCyan),
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed, color.Bold),
		header: color.New(color.FgCyan, color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.step, p.ok, p.fail, p.header} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) Header(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "\n%s\n", p.header.Sprintf("=== "+format+" ===", args...))
}

func (p *Printer) Step(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.step.Sprint("→"), fmt.Sprintf(format, args...))
}

func (p *Printer) OK(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.ok.Sprint("✓"), fmt.Sprintf(format, args...))
}

func (p *Printer) Fail(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.fail.Sprint("✗"), fmt.Sprintf(format, args...))
}

func (p *Printer) Line(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "  "+format+"\n", args...)
}
