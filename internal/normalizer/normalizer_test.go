package normalizer

import (
	"testing"

	"cdsfeeder/internal/extractor"
	"cdsfeeder/internal/spread"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseSpread(t *testing.T) {
	cases := []struct {
		input  string
		expect *float64
	}{
		{input: "1.234,56", expect: spread.Float(12.3456)},
		{input: " 145,20 ", expect: spread.Float(1.452)},
		{input: "150", expect: spread.Float(1.5)},
		{input: "12,5%", expect: spread.Float(0.125)},
		{input: "", expect: nil},
		{input: "-", expect: nil},
		{input: "NaN", expect: nil},
		{input: "null", expect: nil},
		{input: "abc", expect: nil},
	}
	for _, test := range cases {
		got := ParseSpread(test.input)
		if test.expect == nil {
			require.Nil(t, got, "input %q", test.input)
			continue
		}
		require.NotNil(t, got, "input %q", test.input)
		require.InDelta(t, *test.expect, *got, 1e-9, "input %q", test.input)
	}
}

func TestParseChangePct(t *testing.T) {
	cases := []struct {
		input  string
		expect *float64
	}{
		{input: "+1,56%", expect: spread.Float(1.56)},
		{input: "-0,32%", expect: spread.Float(-0.32)},
		{input: "0,00 %", expect: spread.Float(0)},
		{input: "(+2,10%)", expect: spread.Float(2.10)},
		{input: "", expect: nil},
		{input: "n/d", expect: nil},
	}
	for _, test := range cases {
		got := ParseChangePct(test.input)
		if test.expect == nil {
			require.Nil(t, got, "input %q", test.input)
			continue
		}
		require.NotNil(t, got, "input %q", test.input)
		require.InDelta(t, *test.expect, *got, 1e-9, "input %q", test.input)
	}
}

func TestParseDate(t *testing.T) {
	expect := spread.NewDate(2025, 11, 19)
	for _, input := range []string{"19.11.2025", "19/11/2025", "19-11-2025", "2025-11-19", "Nov 19, 2025", " 19.11.2025 "} {
		got, err := ParseDate(input)
		require.NoError(t, err, "input %q", input)
		require.True(t, expect.Equal(got), "input %q: got %v", input, got)
	}

	got, err := ParseDate("3.2.2025")
	require.NoError(t, err)
	require.True(t, spread.NewDate(2025, 2, 3).Equal(got))

	for _, input := range []string{"", "11/19/2025", "ontem"} {
		_, err := ParseDate(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestMapHeader(t *testing.T) {
	cases := []struct {
		header string
		expect Column
		ok     bool
	}{
		{header: "Data", expect: ColumnDate, ok: true},
		{header: "Date", expect: ColumnDate, ok: true},
		{header: "Último", expect: ColumnClose, ok: true},
		{header: "Price", expect: ColumnClose, ok: true},
		{header: "Fechamento", expect: ColumnClose, ok: true},
		{header: "Abertura", expect: ColumnOpen, ok: true},
		{header: "Máxima", expect: ColumnHigh, ok: true},
		{header: "Minima", expect: ColumnLow, ok: true},
		{header: "Var. %", expect: ColumnChangePct, ok: true},
		{header: "Change %", expect: ColumnChangePct, ok: true},
		{header: "Vol.", ok: false},
		{header: "Var.", ok: false},
	}
	for _, test := range cases {
		col, ok := MapHeader(test.header)
		require.Equal(t, test.ok, ok, "header %q", test.header)
		require.Equal(t, test.expect, col, "header %q", test.header)
	}
}

func TestNormalize(t *testing.T) {
	table := extractor.Table{
		Header: []string{"Data", "Último", "Abertura", "Máxima", "Mínima", "Vol.", "Var. %"},
		Rows: [][]string{
			{"19.11.2025", "1.234,56", "1.230,00", "1.240,10", "1.220,00", "-", "+1,56%"},
			{"18.11.2025", "1.215,60", "1.219,00", "1.225,00", "1.210,00", "", "-0,32%"},
			{"", "1.200,00", "", "", "", "", ""},
			{"17.11.2025", "-", "", "", "", "", ""},
			{"16.11.2025"},
		},
	}

	rows, report, err := Normalize(table)
	require.NoError(t, err)
	require.Equal(t, 5, report.Input)
	require.Len(t, report.Dropped, 3)
	require.Equal(t, []Column{ColumnDate, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnChangePct}, report.Columns)

	require.Len(t, rows, 2)
	require.True(t, spread.NewDate(2025, 11, 18).Equal(rows[0].Date))
	require.True(t, spread.NewDate(2025, 11, 19).Equal(rows[1].Date))
	require.InDelta(t, 12.3456, *rows[1].Close, 1e-9)
	require.InDelta(t, 12.30, *rows[1].Open, 1e-9)
	require.InDelta(t, 12.4010, *rows[1].High, 1e-9)
	require.InDelta(t, 12.20, *rows[1].Low, 1e-9)
	require.InDelta(t, 1.56, *rows[1].ChangePct, 1e-9)
	require.InDelta(t, -0.32, *rows[0].ChangePct, 1e-9)
}

func TestNormalizeFirstHeaderWins(t *testing.T) {
	table := extractor.Table{
		Header: []string{"Date", "Price", "Close"},
		Rows:   [][]string{{"2025-11-19", "100", "200"}},
	}
	rows, _, err := Normalize(table)
	require.NoError(t, err)
	require.InDelta(t, 1.0, *rows[0].Close, 1e-9)
}

func TestNormalizeWithoutCloseColumn(t *testing.T) {
	table := extractor.Table{
		Header: []string{"Data", "Abertura"},
		Rows:   [][]string{{"19.11.2025", "1.230,00"}, {"20.11.2025", ""}},
	}
	rows, report, err := Normalize(table)
	require.NoError(t, err)
	require.False(t, report.Has(ColumnClose))
	expect := []spread.Row{
		{Date: spread.NewDate(2025, 11, 19), Open: spread.Float(12.3)},
		{Date: spread.NewDate(2025, 11, 20)},
	}
	if diff := cmp.Diff(expect, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestNormalizeSortIsStable(t *testing.T) {
	table := extractor.Table{
		Header: []string{"Data", "Último"},
		Rows: [][]string{
			{"20.11.2025", "100"},
			{"19.11.2025", "200"},
			{"19.11.2025", "300"},
		},
	}
	rows, _, err := Normalize(table)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.InDelta(t, 2.0, *rows[0].Close, 1e-9)
	require.InDelta(t, 3.0, *rows[1].Close, 1e-9)
	require.InDelta(t, 1.0, *rows[2].Close, 1e-9)
}

func TestNormalizeNoRows(t *testing.T) {
	_, report, err := Normalize(extractor.Table{
		Header: []string{"Data", "Último"},
		Rows:   [][]string{{"", "1,00"}, {"ontem", "2,00"}},
	})
	require.ErrorIs(t, err, ErrNoRows)
	require.Len(t, report.Dropped, 2)

	_, _, err = Normalize(extractor.Table{Header: []string{"Último"}, Rows: [][]string{{"1,00"}}})
	require.ErrorIs(t, err, ErrNoRows)
}
