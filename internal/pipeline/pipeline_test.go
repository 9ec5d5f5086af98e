package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"marketsales/internal/config"
	"marketsales/internal/domain"
	"marketsales/internal/ledger"
	"marketsales/internal/metrics"
	"marketsales/internal/window"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

// fakeFeed serves fixed pages newest-first, like the gateway does.
type fakeFeed struct {
	pages    [][]domain.RawSaleEvent
	pageSize int
	fetches  int
	err      error
}

func (f *fakeFeed) FetchPage(_ context.Context, offset int) ([]domain.RawSaleEvent, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	idx := offset / f.pageSize
	if idx >= len(f.pages) {
		return nil, nil
	}
	return f.pages[idx], nil
}

func (f *fakeFeed) PageSize() int {
	return f.pageSize
}

// recordingSink captures everything dispatched to it.
type recordingSink struct {
	got []domain.SaleRecord
}

func (s *recordingSink) Ingest(_ context.Context, _ string, rec *domain.SaleRecord) error {
	s.got = append(s.got, *rec)
	return nil
}

var (
	testCat    = domain.Category{Name: "packs", TokenAddress: "0xpacks", WithQuantity: true}
	testTokens = domain.TokenTable{
		"0xweth": {Symbol: "WETH", Decimals: 18},
	}
	testAnchor = time.Date(2025, 2, 10, 13, 0, 0, 0, time.UTC)
)

func newTestPipeline(t *testing.T, f Feed, root string, sinks ...RecordSink) *Pipeline {
	t.Helper()
	return newCategoryPipeline(t, testCat, f, root, sinks...)
}

func newCategoryPipeline(t *testing.T, cat domain.Category, f Feed, root string, sinks ...RecordSink) *Pipeline {
	t.Helper()

	return New(
		newTestLogger(),
		metrics.New(prometheus.NewRegistry()),
		cat,
		f,
		testTokens,
		window.NewCalculator(testAnchor, 0),
		root,
		config.IngestConfig{PollInterval: time.Second},
		sinks...,
	)
}

func sale(tx, assetID string, ts int64) domain.RawSaleEvent {
	return domain.RawSaleEvent{
		Maker:        "0xmaker",
		Matcher:      "0xmatcher",
		PaymentToken: "0xweth",
		RealPrice:    "1500000000000000000",
		Timestamp:    ts,
		TxHash:       tx,
		OrderKind:    1,
		Assets:       []domain.RawAsset{{ID: assetID}},
	}
}

func openTestLedger(t *testing.T, root string, win window.Window) *ledger.Ledger {
	t.Helper()
	led, err := ledger.Open(newTestLogger(), root, testCat, win)
	require.NoError(t, err)
	return led
}

// --- backfill ---

func TestBackfill_StopsAtWindowStart(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 2,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt3", "3", win.Start+300), sale("0xt2", "2", win.Start+200)},
			{sale("0xt1", "1", win.Start+100), sale("0xt0", "0", win.Start-50)},
			{sale("0xold", "9", win.Start-500)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	// the pre-window event on page two triggers the early exit; the third
	// page must never be requested
	assert.Equal(t, 2, feed.fetches)
	assert.Equal(t, 3, led.Len())
	assert.True(t, led.Contains(testCat.RecordKey("0xt1", "1", 1)))
	assert.False(t, led.Contains(testCat.RecordKey("0xt0", "0", 1)))
}

func TestBackfill_TwoPagesAtGatewayPageSize(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}

	// full first page of 40, short second page of 15 whose last event
	// precedes the window
	page1 := make([]domain.RawSaleEvent, 0, 40)
	for i := 0; i < 40; i++ {
		page1 = append(page1, sale(fmt.Sprintf("0xa%02d", i), fmt.Sprintf("%d", i), win.Start+1000-int64(i)))
	}
	page2 := make([]domain.RawSaleEvent, 0, 15)
	for i := 0; i < 14; i++ {
		page2 = append(page2, sale(fmt.Sprintf("0xb%02d", i), fmt.Sprintf("%d", 100+i), win.Start+500-int64(i)))
	}
	page2 = append(page2, sale("0xold", "999", win.Start-10))

	feed := &fakeFeed{pageSize: 40, pages: [][]domain.RawSaleEvent{page1, page2}}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	assert.Equal(t, 2, feed.fetches)
	assert.Equal(t, 54, led.Len())
	assert.False(t, led.Contains(testCat.RecordKey("0xold", "999", 1)))
}

func TestBackfill_SkipsEventsPastWindowEnd(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xfuture", "9", win.End+100), sale("0xt1", "1", win.Start+100)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	assert.Equal(t, 1, led.Len())
	assert.False(t, led.Contains(testCat.RecordKey("0xfuture", "9", 1)))
}

func TestBackfill_RerunAppendsNothing(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 2,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt2", "2", win.Start+200), sale("0xt1", "1", win.Start+100)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)
	require.Equal(t, 2, led.Len())
	require.NoError(t, led.Flush())

	// a restart reopens the ledger and backfills again over the same feed
	reopened := openTestLedger(t, root, win)
	p.backfill(context.Background(), win, reopened)
	assert.Equal(t, 2, reopened.Len())
}

func TestBackfill_RerunAfterRestartWithoutQuantityColumn(t *testing.T) {
	t.Parallel()

	skins := domain.Category{Name: "skins", TokenAddress: "0xskins", WithQuantity: false}
	win := window.Window{Start: 1739192400, End: 1739797200}

	ev := sale("0xt1", "7", win.Start+100)
	ev.Quantity = 3 // the skins CSV does not persist the quantity
	feed := &fakeFeed{pageSize: 2, pages: [][]domain.RawSaleEvent{{ev}}}

	root := t.TempDir()
	p := newCategoryPipeline(t, skins, feed, root)

	led, err := ledger.Open(newTestLogger(), root, skins, win)
	require.NoError(t, err)
	p.backfill(context.Background(), win, led)
	require.Equal(t, 1, led.Len())
	require.NoError(t, led.Flush())

	// restart: the dedup set rebuilt from disk must still match the key
	// the live event produces
	reopened, err := ledger.Open(newTestLogger(), root, skins, win)
	require.NoError(t, err)
	p.backfill(context.Background(), win, reopened)
	assert.Equal(t, 1, reopened.Len())
}

func TestBackfill_UnmappedPaymentTokenSkipped(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	odd := sale("0xodd", "5", win.Start+150)
	odd.PaymentToken = "0xmystery"

	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt2", "2", win.Start+200), odd, sale("0xt1", "1", win.Start+100)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	// the unpriceable sale is dropped, its neighbors survive
	assert.Equal(t, 2, led.Len())
	assert.False(t, led.Contains(testCat.RecordKey("0xodd", "5", 1)))
}

func TestBackfill_MultiAssetEventFansOut(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	ev := sale("0xt1", "1", win.Start+100)
	ev.Assets = []domain.RawAsset{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	feed := &fakeFeed{pageSize: 2, pages: [][]domain.RawSaleEvent{{ev}}}

	root := t.TempDir()
	sink := &recordingSink{}
	p := newTestPipeline(t, feed, root, sink)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	assert.Equal(t, 3, led.Len())
	require.Len(t, sink.got, 3)
	assert.Equal(t, "1.5 WETH", sink.got[0].Price)
	assert.Equal(t, "0xmatcher", sink.got[0].Buyer)
}

func TestBackfill_FetchErrorStopsQuietly(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{pageSize: 2, err: errors.New("gateway down")}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	p.backfill(context.Background(), win, led)

	assert.Equal(t, 1, feed.fetches)
	assert.Equal(t, 0, led.Len())
}

// --- poll ---

func TestPoll_AdvancesLowWaterMark(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt3", "3", win.Start+300), sale("0xt2", "2", win.Start+200), sale("0xt1", "1", win.Start+100)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	mark, err := p.poll(context.Background(), win, led, win.Start+150)
	require.NoError(t, err)

	// the event at +100 sits below the mark and stays out
	assert.Equal(t, win.Start+300, mark)
	assert.Equal(t, 2, led.Len())
	assert.False(t, led.Contains(testCat.RecordKey("0xt1", "1", 1)))
}

func TestPoll_NoNewRecordsNoFlush(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt1", "1", win.Start+100)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	// remove the backing file; an idle poll must not resurrect it
	require.NoError(t, os.Remove(led.Path()))

	mark, err := p.poll(context.Background(), win, led, win.Start+100)
	require.NoError(t, err)
	assert.Equal(t, win.Start+100, mark)

	_, statErr := os.Stat(led.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPoll_FlushesWhenRecordsFound(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt2", "2", win.Start+200)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	_, err := p.poll(context.Background(), win, led, win.Start)
	require.NoError(t, err)

	reloaded := openTestLedger(t, root, win)
	assert.Equal(t, 1, reloaded.Len())
}

func TestPoll_WalksFullPagesAcrossOffsets(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 2,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt4", "4", win.Start+400), sale("0xt3", "3", win.Start+300)},
			{sale("0xt2", "2", win.Start+200)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	mark, err := p.poll(context.Background(), win, led, win.Start)
	require.NoError(t, err)

	// first page is full so the next offset is fetched; the short second
	// page ends the walk
	assert.Equal(t, 2, feed.fetches)
	assert.Equal(t, 3, led.Len())
	assert.Equal(t, win.Start+400, mark)
}

func TestPoll_DuplicateDoesNotAdvanceMark(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{
		pageSize: 3,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt2", "2", win.Start+200)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)
	led.Append(domain.SaleRecord{
		Buyer: "0xmatcher", AssetID: "2", Quantity: 1,
		Price: "1.5 WETH", TxHash: "0xt2", Timestamp: win.Start + 200,
	})

	mark, err := p.poll(context.Background(), win, led, win.Start)
	require.NoError(t, err)
	assert.Equal(t, win.Start, mark)
	assert.Equal(t, 1, led.Len())
}

func TestPoll_FetchErrorKeepsMark(t *testing.T) {
	t.Parallel()

	win := window.Window{Start: 1739192400, End: 1739797200}
	feed := &fakeFeed{pageSize: 2, err: errors.New("gateway down")}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)
	led := openTestLedger(t, root, win)

	mark, err := p.poll(context.Background(), win, led, win.Start+100)
	require.NoError(t, err)
	assert.Equal(t, win.Start+100, mark)
}

// --- run loop ---

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	win := window.NewCalculator(testAnchor, 0).Current(time.Now())
	feed := &fakeFeed{
		pageSize: 2,
		pages: [][]domain.RawSaleEvent{
			{sale("0xt1", "1", win.Start+1)},
		},
	}

	root := t.TempDir()
	p := newTestPipeline(t, feed, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
}
