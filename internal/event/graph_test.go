package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		Emits("trading_dates", KindTradingDayEnded).
		Emits("securities", KindTickerTraded).
		Subscribe(KindTradingDayEnded, "securities").
		Subscribe(KindTickerTraded, "quotes").
		Subscribe(KindTickerTraded, "dividends").
		Build()
	require.NoError(t, err)
	return g
}

func TestGraph_SubscribersInOrder(t *testing.T) {
	g := marketGraph(t)

	assert.Equal(t, []string{"securities"}, g.Subscribers(KindTradingDayEnded))
	assert.Equal(t, []string{"quotes", "dividends"}, g.Subscribers(KindTickerTraded))
	assert.Empty(t, g.Subscribers(Kind("unknown")))
}

func TestGraph_SubscribersIsCopy(t *testing.T) {
	g := marketGraph(t)

	subs := g.Subscribers(KindTickerTraded)
	subs[0] = "mutated"

	assert.Equal(t, []string{"quotes", "dividends"}, g.Subscribers(KindTickerTraded))
}

func TestGraph_BuilderMutationAfterBuild(t *testing.T) {
	b := NewGraphBuilder().Subscribe(KindTickerTraded, "quotes")
	g, err := b.Build()
	require.NoError(t, err)

	b.Subscribe(KindTickerTraded, "dividends")
	assert.Equal(t, []string{"quotes"}, g.Subscribers(KindTickerTraded))
}

func TestGraph_Edges(t *testing.T) {
	g := marketGraph(t)

	assert.Equal(t, []Edge{
		{From: "securities", Kind: KindTickerTraded, To: "quotes"},
		{From: "securities", Kind: KindTickerTraded, To: "dividends"},
		{From: "trading_dates", Kind: KindTradingDayEnded, To: "securities"},
	}, g.Edges())
	assert.Equal(t, "securities -[ticker_traded]-> quotes", g.Edges()[0].String())
}

func TestBuild_DuplicateSubscription(t *testing.T) {
	_, err := NewGraphBuilder().
		Subscribe(KindTickerTraded, "quotes").
		Subscribe(KindTickerTraded, "quotes").
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quotes already subscribed to ticker_traded")
}

func TestBuild_SelfLoop(t *testing.T) {
	_, err := NewGraphBuilder().
		Emits("securities", KindTickerTraded).
		Subscribe(KindTickerTraded, "securities").
		Build()

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"securities", "securities"}, ce.Path)
}

func TestBuild_MultiGroupCycle(t *testing.T) {
	_, err := NewGraphBuilder().
		Emits("a", KindTradingDayEnded).
		Emits("b", KindTickerTraded).
		Subscribe(KindTradingDayEnded, "b").
		Subscribe(KindTickerTraded, "a").
		Build()

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "a"}, ce.Path)
	assert.Equal(t, "subscription cycle: a -> b -> a", ce.Error())
}

func TestBuild_DiamondIsNotCycle(t *testing.T) {
	_, err := NewGraphBuilder().
		Emits("root", KindTradingDayEnded).
		Emits("left", KindTickerTraded).
		Emits("right", KindTickerTraded).
		Subscribe(KindTradingDayEnded, "left").
		Subscribe(KindTradingDayEnded, "right").
		Subscribe(KindTickerTraded, "leaf").
		Build()
	assert.NoError(t, err)
}

func TestBuild_UndeclaredEmitsIgnored(t *testing.T) {
	// A group that never declares ticker_traded cannot close a loop with it.
	_, err := NewGraphBuilder().
		Subscribe(KindTickerTraded, "securities").
		Build()
	assert.NoError(t, err)
}
