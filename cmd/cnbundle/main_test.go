package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CNDataBundle/internal/cqcx"
	"CNDataBundle/internal/scheduler"
	"CNDataBundle/internal/store"
	"CNDataBundle/internal/tdx"
)

const (
	stockCSV     = "code,name,timeToMarket\n600000,PFYH,19991110\n000001,PAYH,19910403\n000004,GNKJ,19901201\n"
	benchmarkCSV = "date,return\n2016-01-04,-0.069\n2016-01-05,0.002\n2016-01-06,0.020\n2016-01-07,-0.072\n2016-01-08,0.019\n"
	treasuryCSV  = "Time Period,1month,3month,6month,1year,2year,3year,5year,7year,10year,20year,30year\n" +
		"2016-01-04,0.02,0.021,0.022,0.023,0.024,0.025,0.026,0.027,0.028,0.029,0.03\n" +
		"2016-01-05,0.02,0.021,0.022,0.023,0.024,0.025,0.026,0.027,0.028,0.029,0.03\n" +
		"2016-01-06,0.02,0.021,0.022,0.023,0.024,0.025,0.026,0.027,0.028,0.029,0.03\n" +
		"2016-01-07,0.02,0.021,0.022,0.023,0.024,0.025,0.026,0.027,0.028,0.029,0.03\n"
)

type fixture struct {
	cfgPath string
	dbPath  string
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"ZIPLINE_ROOT", "CQCX_SH", "CQCX_SZ", "TDX_DIR", "ZIPLINE_TL_TOKEN",
		"TUSHARE_LIMIT", "HTTPS_PROXY", "CNBUNDLE_DB", "CNBUNDLE_BENCHMARK", "RUN_ON_START"} {
		t.Setenv(k, "")
	}
}

func writeDay(t *testing.T, root, market, code string, dates ...int32) {
	t.Helper()
	var recs []tdx.DayRecord
	for _, d := range dates {
		recs = append(recs, tdx.DayRecord{Date: d, Open: 1000, High: 1010, Low: 990, Close: 1005, Volume: 500})
	}
	dir := filepath.Join(root, market, "lday")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, market+code+".day"), tdx.Pack(recs), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	f := &fixture{dbPath: filepath.Join(dir, "db", "bundles.db")}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/all.csv":
			fmt.Fprint(w, stockCSV)
		case "/bm/000001.SS_benchmark.csv":
			fmt.Fprint(w, benchmarkCSV)
		case "/treasury.csv":
			fmt.Fprint(w, treasuryCSV)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	tdxDir := filepath.Join(dir, "vipdoc")
	writeDay(t, tdxDir, "sh", "600000", 20160104, 20160105, 20160106, 20160107, 20160108)
	writeDay(t, tdxDir, "sz", "000001", 20160105, 20160106)

	var buf bytes.Buffer
	require.NoError(t, cqcx.Encode(&buf, []cqcx.Record{{Stock: 600000, Date: 20160106, SgVal: 300, PxVal: 200}}))
	sh := filepath.Join(dir, "sh.cqcx")
	sz := filepath.Join(dir, "sz.cqcx")
	require.NoError(t, os.WriteFile(sh, buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(sz, nil, 0o644))

	yml := fmt.Sprintf(`root: %s
squant:
  cqcx_sh: %s
  cqcx_sz: %s
  tdx_dir: %s
stock_list:
  url: %s/all.csv
benchmark:
  base_url: %s/bm
  treasury_url: %s/treasury.csv
calendar:
  first_session: "2016-01-04"
  last_session: "2016-01-08"
database:
  sqlite_path: %s
schedule:
  market_data_cron: "0 30 18 * * 1-5"
`, filepath.Join(dir, "zipline"), sh, sz, tdxDir, srv.URL, srv.URL, srv.URL, f.dbPath)
	f.cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(f.cfgPath, []byte(yml), 0o644))
	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestSquant_WritesStore(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.cfgPath, "ingest", "squant", "--show-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "ingested squant 2016-01-04..2016-01-08")

	st, err := store.NewSQLiteStore(f.dbPath)
	require.NoError(t, err)
	defer st.Close()

	eq, err := st.Equities("squant")
	require.NoError(t, err)
	require.Len(t, eq, 3)
	assert.Equal(t, "000001.SZ", eq[0].Symbol)
	assert.Equal(t, "600000.SS", eq[2].Symbol)

	bars, err := st.Bars("squant", 0)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	bars, err = st.Bars("squant", 1)
	require.NoError(t, err)
	assert.Empty(t, bars, "security without quote file has no bars")

	splits, err := st.Splits("squant")
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, 2, splits[0].SID)
	divs, err := st.Dividends("squant")
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.InDelta(t, 0.2, divs[0].Amount, 1e-6)

	in, err := st.LatestIngestion("squant")
	require.NoError(t, err)
	assert.Equal(t, 10, in.Bars)

	out, err = run(t, "--config", f.cfgPath, "inspect", "squant")
	require.NoError(t, err)
	assert.Contains(t, out, in.ID)
	assert.Contains(t, out, "600000.SS")

	out, err = run(t, "--config", f.cfgPath, "inspect", "squant", "--sid", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2016-01-08")
}

func TestMarketData(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.cfgPath, "market-data")
	require.NoError(t, err)
	assert.Contains(t, out, "2016-01-04..2016-01-06")
	assert.Contains(t, out, "benchmark 000001.SS")

	_, err = run(t, "--config", f.cfgPath, "market-data", "--symbol", "AAPL")
	assert.Error(t, err)
}

func TestIngest_WindowFlagsAndDryRun(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, "--config", f.cfgPath, "ingest", "squant", "--dry-run", "--start", "2016-01-05", "--end", "2016-01-06")
	require.NoError(t, err)
	_, err = os.Stat(f.dbPath)
	assert.True(t, os.IsNotExist(err), "dry run does not open the store")

	_, err = run(t, "--config", f.cfgPath, "ingest", "squant", "--start", "2016/01/05")
	assert.Error(t, err)
}

func TestIngest_UnknownBundle(t *testing.T) {
	f := newFixture(t)
	_, err := run(t, "--config", f.cfgPath, "ingest", "quandl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "squant")
}

func TestRegisterTasks(t *testing.T) {
	f := newFixture(t)
	a := &app{now: func() time.Time { return time.Date(2016, 1, 8, 20, 0, 0, 0, time.UTC) }}
	require.NoError(t, a.load(f.cfgPath))

	sched := scheduler.NewScheduler(context.Background())
	require.NoError(t, registerTasks(a, sched))
	assert.Equal(t, []string{taskMarketData, taskRefreshSymbols}, sched.Tasks())
}

func TestRegistryNames(t *testing.T) {
	f := newFixture(t)
	a := &app{}
	require.NoError(t, a.load(f.cfgPath))
	reg, err := a.registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"squant", "tushare", "yahoo"}, reg.Names())
}

func TestParseDateFlag(t *testing.T) {
	d, err := parseDateFlag("start", "")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDateFlag("start", "2016-01-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 1, 4, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDateFlag("end", "20160104")
	assert.ErrorContains(t, err, "--end")
}
