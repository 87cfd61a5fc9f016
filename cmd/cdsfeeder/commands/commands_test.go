package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"cdsfeeder/internal/pipeline"
	"cdsfeeder/internal/spread"

	"github.com/stretchr/testify/require"
)

const history = `date,open,high,low,close,change_pct
2025-11-17,,,,12.1,
2025-11-18,12.1,13.2,12.0,13.0,5.69
2025-11-19,12.9,13.1,12.7,12.805,-1.5
`

const page = `<html><body><table>
<thead><tr><th>Data</th><th>Último</th><th>Abertura</th><th>Máxima</th><th>Mínima</th><th>Var. %</th></tr></thead>
<tbody>
<tr><td>21.11.2025</td><td>1.250,00</td><td>1.280,50</td><td>1.290,00</td><td>1.240,00</td><td>-2,38%</td></tr>
<tr><td>20.11.2025</td><td>1.280,50</td><td>1.280,00</td><td>1.300,00</td><td>1.270,00</td><td>0,00%</td></tr>
<tr><td>19.11.2025</td><td>1.280,50</td><td>1.300,00</td><td>1.310,00</td><td>1.270,00</td><td>-1,50%</td></tr>
</tbody>
</table></body></html>`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CSV_OUTPUT_PATH", filepath.Join(dir, "data", "cds.csv"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(t.TempDir(), "cdsfeeder.json5"),
		"--env-file", "",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

func TestImportQueryPrune(t *testing.T) {
	dir := setupEnv(t)
	historyPath := filepath.Join(dir, "history.csv")
	require.NoError(t, os.WriteFile(historyPath, []byte(history), 0o644))

	out, err := execute(t, "--json", "import", historyPath)
	require.NoError(t, err)
	imported := decode[map[string]any](t, out)
	require.EqualValues(t, 3, imported["read"])

	out, err = execute(t, "--json", "query", "latest", "-n", "2")
	require.NoError(t, err)
	latest := decode[[]observationJSON](t, out)
	require.Len(t, latest, 2)
	require.Equal(t, "2025-11-19", latest[0].Date)
	require.Equal(t, "2025-11-18", latest[1].Date)
	require.Equal(t, 13.0, latest[1].Close)

	out, err = execute(t, "query", "date", "2025-11-18")
	require.NoError(t, err)
	require.Contains(t, out, "2025-11-18")
	require.Contains(t, out, "5.69")

	_, err = execute(t, "query", "date", "2025-01-01")
	require.ErrorContains(t, err, "no observation for 2025-01-01")

	out, err = execute(t, "--json", "query", "range", "--start", "2025-11-18", "--order", "asc")
	require.NoError(t, err)
	ranged := decode[[]observationJSON](t, out)
	require.Len(t, ranged, 2)
	require.Equal(t, "2025-11-18", ranged[0].Date)

	_, err = execute(t, "query", "range", "--order", "sideways")
	require.Error(t, err)

	out, err = execute(t, "--json", "query", "runs")
	require.NoError(t, err)
	runs := decode[[]runJSON](t, out)
	require.Len(t, runs, 1)
	require.Equal(t, "csv_import", runs[0].Source)
	require.Equal(t, "success", runs[0].Status)

	out, err = execute(t, "prune", "--start", "2025-11-17", "--end", "2025-11-17")
	require.NoError(t, err)
	require.Contains(t, out, "deleted 1 observations")

	out, err = execute(t, "--json", "query", "stats")
	require.NoError(t, err)
	stats := decode[statisticsJSON](t, out)
	require.Equal(t, 2, stats.TotalRecords)
	require.Equal(t, "2025-11-18", *stats.EarliestDate)
	require.Equal(t, "2025-11-19", *stats.LatestDate)

	out, err = execute(t, "query", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "Total records")
}

func TestUpdate(t *testing.T) {
	setupEnv(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()
	t.Setenv("INVESTING_URL", srv.URL)
	t.Setenv("REQUEST_RETRIES", "0")

	out, err := execute(t, "--json", "update", "--trigger", "api", "--silent")
	require.NoError(t, err)
	summary := decode[pipeline.Summary](t, out)
	require.Equal(t, spread.StatusSuccess, summary.Status)
	require.Equal(t, spread.Result{Inserted: 3}, summary.Result)
	require.Equal(t, 1, hits)

	out, err = execute(t, "--json", "update", "--mode", "skip")
	require.NoError(t, err)
	summary = decode[pipeline.Summary](t, out)
	require.Equal(t, spread.Result{Skipped: 3}, summary.Result)

	out, err = execute(t, "--json", "query", "runs")
	require.NoError(t, err)
	runs := decode[[]runJSON](t, out)
	require.Len(t, runs, 2)
	require.Equal(t, "manual", runs[0].Trigger)
	require.Equal(t, "api", runs[1].Trigger)

	out, err = execute(t, "--json", "query", "date", "2025-11-21")
	require.NoError(t, err)
	obs := decode[[]observationJSON](t, out)
	require.Len(t, obs, 1)
	require.Equal(t, 12.5, obs[0].Close)
	require.Equal(t, -2.38, *obs[0].ChangePct)
}

func TestUpdateFailure(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	t.Setenv("INVESTING_URL", srv.URL)

	_, err := execute(t, "update")
	require.ErrorContains(t, err, "403")

	out, err := execute(t, "--json", "query", "runs")
	require.NoError(t, err)
	runs := decode[[]runJSON](t, out)
	require.Len(t, runs, 1)
	require.Equal(t, "error", runs[0].Status)
}

func TestStoreFlags(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "--force-csv", "--force-db", "query", "stats")
	require.ErrorContains(t, err, "cannot be used together")

	_, err = execute(t, "--force-db", "query", "stats")
	require.ErrorContains(t, err, "no database url")

	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "cds.db"))
	out, err := execute(t, "--force-db", "--json", "query", "stats")
	require.NoError(t, err)
	stats := decode[statisticsJSON](t, out)
	require.Zero(t, stats.TotalRecords)
	require.Equal(t, []string{}, stats.Sources)
}

func TestQueryRejectsInvalidLimit(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "query", "latest", "--limit=0")
	require.ErrorContains(t, err, "limit must be at least 1")

	_, err = execute(t, "query", "runs", "--limit=-1")
	require.ErrorContains(t, err, "limit must be at least 1")
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "schedule", "--cron", "every day")
	require.Error(t, err)
}
