package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFlow string

func (f fixedFlow) Generate() string { return string(f) }

var day = time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)

// marketHandler reloads "securities" into three tickers and records every
// delivery.
type marketHandler struct {
	mu   sync.Mutex
	log  []string
	fail map[string]error
}

func (h *marketHandler) HandleEvent(_ context.Context, group string, ev Event) ([]Event, error) {
	h.mu.Lock()
	h.log = append(h.log, fmt.Sprintf("%s -> %s", Format(ev), group))
	h.mu.Unlock()

	if tt, ok := ev.(TickerTraded); ok {
		if err := h.fail[group+"/"+tt.Ticker]; err != nil {
			return nil, err
		}
	}

	if group == "securities" {
		var out []Event
		for _, ticker := range []string{"AKRN", "GAZP", "SBER"} {
			out = append(out, TickerTraded{Ticker: ticker, ISIN: "RU" + ticker, Date: day})
		}
		return out, nil
	}
	return nil, nil
}

func TestPublish_DepthFirstInOrder(t *testing.T) {
	h := &marketHandler{}
	r := NewRouter(marketGraph(t), h)

	require.NoError(t, r.Publish(context.Background(), TradingDayEnded{Date: day}))

	assert.Equal(t, []string{
		"trading_day_ended date=2021-03-05 -> securities",
		"ticker_traded date=2021-03-05 isin=RUAKRN ticker=AKRN -> quotes",
		"ticker_traded date=2021-03-05 isin=RUAKRN ticker=AKRN -> dividends",
		"ticker_traded date=2021-03-05 isin=RUGAZP ticker=GAZP -> quotes",
		"ticker_traded date=2021-03-05 isin=RUGAZP ticker=GAZP -> dividends",
		"ticker_traded date=2021-03-05 isin=RUSBER ticker=SBER -> quotes",
		"ticker_traded date=2021-03-05 isin=RUSBER ticker=SBER -> dividends",
	}, h.log)
}

func TestPublish_NoSubscribers(t *testing.T) {
	h := &marketHandler{}
	r := NewRouter(marketGraph(t), h)

	require.NoError(t, r.Publish(context.Background()))
	require.NoError(t, r.Publish(context.Background(), TickerTraded{Ticker: "X"}))
	assert.Len(t, h.log, 2)
}

func TestPublish_ErrorsJoinedAndDeliveryContinues(t *testing.T) {
	errAKRN := errors.New("akrn upstream down")
	errSBER := errors.New("sber upstream down")
	h := &marketHandler{fail: map[string]error{
		"quotes/AKRN": errAKRN,
		"quotes/SBER": errSBER,
	}}
	r := NewRouter(marketGraph(t), h)

	err := r.Publish(context.Background(), TradingDayEnded{Date: day})

	require.Error(t, err)
	assert.ErrorIs(t, err, errAKRN)
	assert.ErrorIs(t, err, errSBER)
	assert.Contains(t, err.Error(), "deliver ticker_traded to quotes")
	assert.Len(t, h.log, 7)
}

func TestPublish_Quota(t *testing.T) {
	h := &marketHandler{}
	r := NewRouter(marketGraph(t), h, WithMaxSteps(3), WithFlowGenerator(fixedFlow("flow-1")))

	err := r.Publish(context.Background(), TradingDayEnded{Date: day})

	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "flow-1", qe.Flow)
	assert.Equal(t, 3, qe.Limit)
	assert.Len(t, h.log, 3)
}

func TestPublish_QuotaIsPerFlow(t *testing.T) {
	h := &marketHandler{}
	r := NewRouter(marketGraph(t), h, WithMaxSteps(7))

	require.NoError(t, r.Publish(context.Background(), TradingDayEnded{Date: day}))
	require.NoError(t, r.Publish(context.Background(), TradingDayEnded{Date: day}))
}

func TestPublish_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := HandlerFunc(func(_ context.Context, group string, ev Event) ([]Event, error) {
		calls++
		cancel()
		return []Event{TickerTraded{Ticker: "AKRN"}}, nil
	})
	r := NewRouter(marketGraph(t), h)

	err := r.Publish(ctx, TradingDayEnded{Date: day})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPublish_FlowToken(t *testing.T) {
	var flows []string
	observe := func(d Delivery) { flows = append(flows, d.Flow) }
	h := HandlerFunc(func(ctx context.Context, _ string, _ Event) ([]Event, error) {
		flows = append(flows, FlowFrom(ctx))
		return nil, nil
	})
	r := NewRouter(marketGraph(t), h, WithFlowGenerator(fixedFlow("generated")), WithObserver(observe))

	require.NoError(t, r.Publish(context.Background(), TradingDayEnded{Date: day}))
	require.NoError(t, r.Publish(WithFlow(context.Background(), "outer"), TradingDayEnded{Date: day}))

	assert.Equal(t, []string{"generated", "generated", "outer", "outer"}, flows)
}

func TestPublish_ObserverDepth(t *testing.T) {
	var depths []int
	r := NewRouter(marketGraph(t), &marketHandler{}, WithObserver(func(d Delivery) {
		depths = append(depths, d.Depth)
	}))

	require.NoError(t, r.Publish(context.Background(), TradingDayEnded{Date: day}))
	assert.Equal(t, []int{0, 1, 1, 1, 1, 1, 1}, depths)
}

func TestPublish_Workers(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		total    atomic.Int32
	)
	release := make(chan struct{})
	h := HandlerFunc(func(_ context.Context, group string, _ Event) ([]Event, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		total.Add(1)

		if group == "securities" {
			return []Event{
				TickerTraded{Ticker: "AKRN"},
				TickerTraded{Ticker: "GAZP"},
				TickerTraded{Ticker: "SBER"},
			}, nil
		}
		<-release
		return nil, nil
	})
	r := NewRouter(marketGraph(t), h, WithWorkers(2))

	done := make(chan error, 1)
	go func() {
		done <- r.Publish(context.Background(), TradingDayEnded{Date: day})
	}()

	require.Eventually(t, func() bool { return inFlight.Load() == 2 }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int32(7), total.Load())
	assert.Equal(t, int32(2), peak.Load())
}
