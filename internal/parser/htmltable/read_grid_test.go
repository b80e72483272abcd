package htmltable

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadGrid(t *testing.T) {
	t.Parallel()

	in := `<html><body>
		<h1>Call report</h1>
		<table>
			<tr><th>Call type</th><th>Time</th><th>From/To</th></tr>
			<tr><td>incoming</td><td>2023-06-07 13:28:00</td><td>555</td></tr>
			<tr><td>outgoing</td><td>2023-06-07 13:30:00</td><td>556</td></tr>
		</table>
	</body></html>`

	got, err := ReadGrid(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGrid: %v", err)
	}
	want := [][]string{
		{"Call type", "Time", "From/To"},
		{"incoming", "2023-06-07 13:28:00", "555"},
		{"outgoing", "2023-06-07 13:30:00", "556"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("grid=%v, want %v", got, want)
	}
}

func TestReadGridCollapsesNestedMarkup(t *testing.T) {
	t.Parallel()

	in := `<table><tr><td>
		<span>John</span>
		<b>Doe</b>
	</td></tr></table>`

	got, err := ReadGrid(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGrid: %v", err)
	}
	if got[0][0] != "John Doe" {
		t.Fatalf("cell=%q, want %q", got[0][0], "John Doe")
	}
}

func TestReadGridFirstTableOnly(t *testing.T) {
	t.Parallel()

	in := `<table><tr><td>first</td></tr></table>
		<table><tr><td>second</td></tr></table>`

	got, err := ReadGrid(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGrid: %v", err)
	}
	if len(got) != 1 || got[0][0] != "first" {
		t.Fatalf("grid=%v", got)
	}
}

func TestReadGridNoTable(t *testing.T) {
	t.Parallel()

	if _, err := ReadGrid(strings.NewReader("<html><body><p>hi</p></body></html>")); err == nil {
		t.Fatalf("document without table accepted")
	}
}

func TestReadGridEmptyTable(t *testing.T) {
	t.Parallel()

	if _, err := ReadGrid(strings.NewReader("<table></table>")); err == nil {
		t.Fatalf("empty table accepted")
	}
}
