package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
)

// Output handles CLI output formatting.
type Output struct {
	jsonMode bool
	jq       *gojq.Code
	color    *Colorizer
	stdout   io.Writer
	stderr   io.Writer
}

// New creates a new Output instance.
func New(jsonMode bool) *Output {
	noColor := os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
	return &Output{
		jsonMode: jsonMode,
		color:    NewColorizer(!noColor),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// NewWriter creates an Output that writes to w without colors.
func NewWriter(jsonMode bool, w io.Writer) *Output {
	return &Output{jsonMode: jsonMode, color: NewColorizer(false), stdout: w, stderr: w}
}

// SetFilter compiles a jq expression applied to every JSON document.
// It also switches the output to JSON mode.
func (o *Output) SetFilter(expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return err
	}
	o.jq = code
	o.jsonMode = true
	return nil
}

// JSONMode reports whether output is JSON.
func (o *Output) JSONMode() bool {
	return o.jsonMode
}

// Colors returns the colorizer used for human output.
func (o *Output) Colors() *Colorizer {
	return o.color
}

// Writer returns the stdout writer.
func (o *Output) Writer() io.Writer {
	return o.stdout
}

// Success prints a success message.
func (o *Output) Success(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.stdout, o.color.Color("✓ ", "green")+format+"\n", args...)
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.stderr, o.color.Color("✗ ", "red")+format+"\n", args...)
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.stdout, o.color.Color("! ", "yellow")+format+"\n", args...)
}

// Info prints an info message.
func (o *Output) Info(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.stdout, o.color.Color("→ ", "cyan")+format+"\n", args...)
}

// Header prints a header.
func (o *Output) Header(text string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.stdout, o.color.Bold(text))
}

// KeyValue prints a key-value pair.
func (o *Output) KeyValue(key, value string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.stdout, "  %s: %s\n", o.color.Color(key, "gray"), value)
}

// Divider prints a divider line.
func (o *Output) Divider() {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.stdout, o.color.Color("─────────────────────────────────────────", "gray"))
}

// Table renders t with status-like cells colored.
func (o *Output) Table(t *Table) {
	if o.jsonMode {
		return
	}
	t.Render(o.stdout, o.color, func(_ int, cell string) string {
		return o.color.Value(cell)
	})
}

// JSON prints data as indented JSON, through the jq filter when one is set.
func (o *Output) JSON(data any) {
	o.encode(data, "  ")
}

// Line prints data as a single JSON line, for streams.
func (o *Output) Line(data any) {
	o.encode(data, "")
}

func (o *Output) encode(data any, indent string) {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", indent)
	if o.jq == nil {
		enc.Encode(data)
		return
	}

	// gojq only accepts plain JSON values
	raw, err := json.Marshal(data)
	if err != nil {
		fmt.Fprintf(o.stderr, "jq: %v\n", err)
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintf(o.stderr, "jq: %v\n", err)
		return
	}
	iter := o.jq.Run(v)
	for {
		res, ok := iter.Next()
		if !ok {
			return
		}
		if err, isErr := res.(error); isErr {
			fmt.Fprintf(o.stderr, "jq: %v\n", err)
			return
		}
		enc.Encode(res)
	}
}
