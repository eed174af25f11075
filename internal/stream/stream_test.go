package stream

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	mdstream "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"autotrader/internal/domain"
)

// fakeClient records subscribe/unsubscribe traffic and captures the handler.
type fakeClient struct {
	handler  func(mdstream.Bar)
	subbed   []string
	unsubbed []string
	connects int
	subErr   error
}

func (f *fakeClient) Connect(context.Context) error { f.connects++; return nil }

func (f *fakeClient) SubscribeToBars(handler func(mdstream.Bar), symbols ...string) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.handler = handler
	f.subbed = append(f.subbed, symbols...)
	return nil
}

func (f *fakeClient) UnsubscribeFromBars(symbols ...string) error {
	f.unsubbed = append(f.unsubbed, symbols...)
	return nil
}

// fakeWriter records writes; timestamps in universe accepted, others dropped.
type fakeWriter struct {
	universe map[string]bool
	written  []string // "ticker@minute"
	err      error
}

func (f *fakeWriter) WriteBar(_ context.Context, ticker string, bar domain.Bar) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !f.universe[bar.Timestamp] {
		return false, nil
	}
	f.written = append(f.written, fmt.Sprintf("%s@%s", ticker, bar.Timestamp))
	return true, nil
}

func newTestIngestor(client *fakeClient, writer *fakeWriter) *Ingestor {
	in := NewIngestor("key", "secret", "iex", writer)
	in.client = client
	return in
}

func TestIngestorStartStopIdempotent(t *testing.T) {
	client := &fakeClient{}
	in := newTestIngestor(client, &fakeWriter{})

	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if client.connects != 1 {
		t.Errorf("connects = %d, want 1", client.connects)
	}

	in.Stop()
	in.Stop() // no panic, no double teardown
}

func TestIngestorStopUnsubscribesActiveSymbols(t *testing.T) {
	client := &fakeClient{}
	in := newTestIngestor(client, &fakeWriter{})

	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := in.Subscribe("NVDA", "AAPL"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := in.Unsubscribe("AAPL"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	in.Stop()
	// AAPL went earlier; shutdown drains only what was still live.
	if !reflect.DeepEqual(client.unsubbed, []string{"AAPL", "NVDA"}) {
		t.Errorf("unsubscribed = %v, want [AAPL NVDA]", client.unsubbed)
	}

	in.Stop()
	if len(client.unsubbed) != 2 {
		t.Errorf("second Stop unsubscribed again: %v", client.unsubbed)
	}
}

func TestIngestorRoutesBarsToStore(t *testing.T) {
	minute := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	writer := &fakeWriter{universe: map[string]bool{domain.FormatMinute(minute): true}}
	client := &fakeClient{}
	in := newTestIngestor(client, writer)

	if err := in.Subscribe("NVDA"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	client.handler(mdstream.Bar{
		Symbol: "NVDA", Timestamp: minute,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 5000,
	})

	want := []string{"NVDA@2024-01-02T15:00:00Z"}
	if !reflect.DeepEqual(writer.written, want) {
		t.Errorf("written = %v, want %v", writer.written, want)
	}
}

func TestIngestorDropsOutOfUniverseBar(t *testing.T) {
	writer := &fakeWriter{universe: map[string]bool{}}
	client := &fakeClient{}
	in := newTestIngestor(client, writer)

	if err := in.Subscribe("NVDA"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Post-market tick: silently unrecorded, no error surfaces.
	client.handler(mdstream.Bar{
		Symbol: "NVDA", Timestamp: time.Date(2024, 1, 2, 22, 0, 0, 0, time.UTC),
	})
	if len(writer.written) != 0 {
		t.Errorf("out-of-universe bar was recorded: %v", writer.written)
	}
}

func TestIngestorStoreErrorDoesNotPanic(t *testing.T) {
	writer := &fakeWriter{err: errors.New("database is locked")}
	client := &fakeClient{}
	in := newTestIngestor(client, writer)

	if err := in.Subscribe("NVDA"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// One bad message must not interrupt the stream.
	client.handler(mdstream.Bar{
		Symbol: "NVDA", Timestamp: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
	})
}

// fakeSub counts raw subscription traffic for the manager tests.
type fakeSub struct {
	subbed   []string
	unsubbed []string
	err      error
}

func (f *fakeSub) Subscribe(symbols ...string) error {
	if f.err != nil {
		return f.err
	}
	f.subbed = append(f.subbed, symbols...)
	return nil
}

func (f *fakeSub) Unsubscribe(symbols ...string) error {
	f.unsubbed = append(f.unsubbed, symbols...)
	return nil
}

func TestManagerRefCounting(t *testing.T) {
	sub := &fakeSub{}
	m := NewManager(sub)

	// Two instances on the same ticker share one subscription.
	if err := m.Add("NVDA"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add("NVDA"); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if len(sub.subbed) != 1 {
		t.Fatalf("provider subscriptions = %v, want one", sub.subbed)
	}

	// First removal keeps the subscription alive.
	if err := m.Remove("NVDA"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(sub.unsubbed) != 0 {
		t.Fatalf("unsubscribed early: %v", sub.unsubbed)
	}

	// Last removal tears it down.
	if err := m.Remove("NVDA"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if !reflect.DeepEqual(sub.unsubbed, []string{"NVDA"}) {
		t.Errorf("unsubscribed = %v, want [NVDA]", sub.unsubbed)
	}

	// Removing an untracked ticker is a no-op.
	if err := m.Remove("AAPL"); err != nil {
		t.Errorf("Remove untracked: %v", err)
	}
}

func TestManagerAddAllAndActive(t *testing.T) {
	sub := &fakeSub{}
	m := NewManager(sub)

	if err := m.AddAll([]string{"NVDA", "AAPL", "NVDA"}); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	if got := m.Active(); !reflect.DeepEqual(got, []string{"AAPL", "NVDA"}) {
		t.Errorf("Active = %v, want [AAPL NVDA]", got)
	}
	// NVDA held two refs from AddAll.
	if err := m.Remove("NVDA"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := m.Active(); !reflect.DeepEqual(got, []string{"AAPL", "NVDA"}) {
		t.Errorf("Active after one remove = %v, want [AAPL NVDA]", got)
	}
}

func TestManagerSubscribeFailureLeavesNoRef(t *testing.T) {
	sub := &fakeSub{err: errors.New("stream down")}
	m := NewManager(sub)

	if err := m.Add("NVDA"); err == nil {
		t.Fatal("Add succeeded despite subscribe failure")
	}
	if got := m.Active(); len(got) != 0 {
		t.Errorf("Active = %v, want empty after failed subscribe", got)
	}
}
