package listener

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/dshills/patchbay/internal/native"
)

type event struct {
	id      native.ID
	name    string
	payload native.Atoms
}

type recorder struct {
	name   string
	events []event
	hook   func()
}

func (r *recorder) OnEvent(id native.ID, name string, payload native.Atoms) {
	r.events = append(r.events, event{id: id, name: name, payload: payload})
	if r.hook != nil {
		r.hook()
	}
}

type panicker struct {
	msg   string
	calls int
}

func (p *panicker) OnEvent(native.ID, string, native.Atoms) {
	p.calls++
	panic(p.msg)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if res := r.Dispatch(1, "x", nil); res != (DispatchResult{}) {
		t.Errorf("Dispatch on empty registry = %+v", res)
	}
}

func TestSubscribe(t *testing.T) {
	r := NewRegistry()
	l := &recorder{name: "a"}

	sub, err := Subscribe(r, 1, l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.ID() == "" {
		t.Error("subscription ID should not be empty")
	}
	if sub.Identity() != 1 {
		t.Errorf("Identity() = %v, want 1", sub.Identity())
	}
	if !sub.IsActive() {
		t.Error("new subscription should be active")
	}
	if got, ok := sub.Listener(); !ok || got != Listener(l) {
		t.Error("Listener() should return the subscribed listener")
	}

	again, _ := Subscribe(r, 1, l)
	if again != sub {
		t.Error("subscribing twice should return the existing subscription")
	}
	if r.Count(1) != 1 {
		t.Errorf("Count(1) = %d, want 1", r.Count(1))
	}

	if _, err := Subscribe(r, 2, l); err != nil {
		t.Fatalf("Subscribe to second identity: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestSubscribe_Errors(t *testing.T) {
	r := NewRegistry()

	var nilRec *recorder
	if _, err := Subscribe(r, 1, nilRec); !errors.Is(err, ErrNilListener) {
		t.Errorf("Subscribe(nil) = %v, want ErrNilListener", err)
	}
	if _, err := Subscribe(r, native.Nil, &recorder{}); !errors.Is(err, ErrNilIdentity) {
		t.Errorf("Subscribe(Nil) = %v, want ErrNilIdentity", err)
	}
}

func TestRegistry_Dispatch_Order(t *testing.T) {
	r := NewRegistry()

	var order []string
	ls := make([]*recorder, 3)
	for i, name := range []string{"first", "second", "third"} {
		l := &recorder{name: name}
		l.hook = func() { order = append(order, l.name) }
		ls[i] = l
		Subscribe(r, 7, l)
	}

	payload := native.Atoms{native.Float(1), native.Symbol("bang")}
	res := r.Dispatch(7, "list", payload)
	if res.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", res.Delivered)
	}

	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	ev := ls[0].events[0]
	if ev.id != 7 || ev.name != "list" || !ev.payload.Equal(payload) {
		t.Errorf("event = %+v", ev)
	}
	runtime.KeepAlive(ls)
}

func TestRegistry_Dispatch_OnlyMatchingIdentity(t *testing.T) {
	r := NewRegistry()
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	Subscribe(r, 1, a)
	Subscribe(r, 2, b)

	r.Dispatch(1, "x", nil)
	if len(a.events) != 1 || len(b.events) != 0 {
		t.Errorf("a got %d, b got %d; want 1, 0", len(a.events), len(b.events))
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	subA, _ := Subscribe(r, 1, a)
	Subscribe(r, 1, b)

	if !Unsubscribe(r, 1, a) {
		t.Error("Unsubscribe should return true for a subscribed listener")
	}
	if Unsubscribe(r, 1, a) {
		t.Error("second Unsubscribe should return false")
	}
	if Unsubscribe(r, 99, b) {
		t.Error("Unsubscribe from unknown identity should return false")
	}
	if subA.IsActive() {
		t.Error("unsubscribed subscription should be cancelled")
	}

	r.Dispatch(1, "x", nil)
	if len(a.events) != 0 || len(b.events) != 1 {
		t.Errorf("a got %d, b got %d; want 0, 1", len(a.events), len(b.events))
	}
}

func TestSubscription_Cancel(t *testing.T) {
	r := NewRegistry()
	l := &recorder{}
	sub, _ := Subscribe(r, 1, l)

	sub.Cancel()
	sub.Cancel()

	if sub.State() != StateCancelled {
		t.Errorf("State() = %v, want cancelled", sub.State())
	}
	if _, ok := r.Get(sub.ID()); ok {
		t.Error("cancelled subscription should be removed")
	}
	if r.Count(1) != 0 {
		t.Errorf("Count(1) = %d, want 0", r.Count(1))
	}
}

func TestRegistry_UnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry()

	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	c := &recorder{name: "c"}
	b.hook = func() { Unsubscribe(r, 1, b) }

	Subscribe(r, 1, a)
	Subscribe(r, 1, b)
	Subscribe(r, 1, c)

	res := r.Dispatch(1, "x", nil)
	if res.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", res.Delivered)
	}
	for _, l := range []*recorder{a, b, c} {
		if len(l.events) != 1 {
			t.Errorf("%s got %d events, want exactly 1", l.name, len(l.events))
		}
	}

	r.Dispatch(1, "y", nil)
	if len(b.events) != 1 {
		t.Errorf("b got %d events after unsubscribing, want 1", len(b.events))
	}
	if len(a.events) != 2 || len(c.events) != 2 {
		t.Errorf("a got %d, c got %d; want 2, 2", len(a.events), len(c.events))
	}
}

func TestRegistry_UnsubscribeOtherDuringDispatch(t *testing.T) {
	r := NewRegistry()

	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	c := &recorder{name: "c"}
	a.hook = func() { Unsubscribe(r, 1, b) }

	Subscribe(r, 1, a)
	Subscribe(r, 1, b)
	Subscribe(r, 1, c)

	r.Dispatch(1, "x", nil)
	if len(b.events) != 0 {
		t.Errorf("b was unsubscribed before its turn, got %d events", len(b.events))
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Errorf("a got %d, c got %d; want 1, 1", len(a.events), len(c.events))
	}
}

func TestRegistry_SubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry()

	late := &recorder{name: "late"}
	a := &recorder{name: "a"}
	a.hook = func() { Subscribe(r, 1, late) }
	Subscribe(r, 1, a)

	r.Dispatch(1, "x", nil)
	if len(late.events) != 0 {
		t.Error("listener added during dispatch should not receive that event")
	}
	r.Dispatch(1, "y", nil)
	if len(late.events) != 1 {
		t.Errorf("late got %d events, want 1", len(late.events))
	}
}

func TestRegistry_ReleaseAll(t *testing.T) {
	r := NewRegistry()
	a := &recorder{}
	b := &recorder{}
	subA, _ := Subscribe(r, 1, a)
	Subscribe(r, 1, b)
	Subscribe(r, 2, a)

	if n := r.ReleaseAll(1); n != 2 {
		t.Errorf("ReleaseAll(1) = %d, want 2", n)
	}
	if n := r.ReleaseAll(1); n != 0 {
		t.Errorf("second ReleaseAll(1) = %d, want 0", n)
	}
	if subA.IsActive() {
		t.Error("released subscription should be cancelled")
	}

	r.Dispatch(1, "x", nil)
	if len(a.events) != 0 || len(b.events) != 0 {
		t.Error("listeners should not be notified after ReleaseAll")
	}
	if r.Count(2) != 1 {
		t.Errorf("Count(2) = %d, want 1", r.Count(2))
	}
}

func TestRegistry_PanicIsolated(t *testing.T) {
	var failures []*ListenerError
	r := NewRegistry(WithFailureHandler(func(err *ListenerError) {
		failures = append(failures, err)
	}))

	a := &recorder{name: "a"}
	p := &panicker{msg: "boom"}
	c := &recorder{name: "c"}
	Subscribe(r, 1, a)
	pSub, _ := Subscribe(r, 1, p)
	Subscribe(r, 1, c)

	res := r.Dispatch(1, "x", nil)
	if res.Delivered != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 delivered, 1 failed", res)
	}
	if len(c.events) != 1 {
		t.Error("listener after a panicking one should still receive the event")
	}

	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if !errors.Is(f, ErrListenerPanic) {
		t.Error("failure should match ErrListenerPanic")
	}
	if f.SubscriptionID != pSub.ID() || f.Event != "x" || f.Value != "boom" {
		t.Errorf("failure = %+v", f)
	}
	if r.Stats().Failed != 1 {
		t.Errorf("Stats().Failed = %d, want 1", r.Stats().Failed)
	}
}

func subscribeTransient(r *Registry, id native.ID) *Subscription {
	sub, _ := Subscribe(r, id, &recorder{name: "transient"})
	return sub
}

func TestRegistry_PrunesCollectedListeners(t *testing.T) {
	r := NewRegistry()
	keep := &recorder{name: "keep"}
	Subscribe(r, 1, keep)
	sub := subscribeTransient(r, 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		runtime.GC()
		if _, ok := sub.Listener(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Skip("transient listener was not collected")
		}
	}

	if r.Count(1) != 2 {
		t.Fatalf("Count(1) = %d before dispatch, want 2 (pruning is lazy)", r.Count(1))
	}

	res := r.Dispatch(1, "x", nil)
	if res.Delivered != 1 || res.Pruned != 1 {
		t.Errorf("result = %+v, want 1 delivered, 1 pruned", res)
	}
	if r.Count(1) != 1 {
		t.Errorf("Count(1) = %d after dispatch, want 1", r.Count(1))
	}
	if sub.IsActive() {
		t.Error("pruned subscription should be cancelled")
	}
	runtime.KeepAlive(keep)
}

func TestRegistry_Prune(t *testing.T) {
	r := NewRegistry()
	subs := []*Subscription{subscribeTransient(r, 1), subscribeTransient(r, 2)}

	deadline := time.Now().Add(2 * time.Second)
	for {
		runtime.GC()
		_, ok1 := subs[0].Listener()
		_, ok2 := subs[1].Listener()
		if !ok1 && !ok2 {
			break
		}
		if time.Now().After(deadline) {
			t.Skip("transient listeners were not collected")
		}
	}

	if n := r.Prune(); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_DoesNotRetainListener(t *testing.T) {
	r := NewRegistry()

	collected := make(chan struct{})
	func() {
		l := &recorder{name: "finalized"}
		runtime.AddCleanup(l, func(ch chan struct{}) { close(ch) }, collected)
		Subscribe(r, 1, l)
	}()

	deadline := time.After(2 * time.Second)
	for {
		runtime.GC()
		select {
		case <-collected:
			return
		case <-deadline:
			t.Fatal("registry kept a subscribed listener alive")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	const workers = 8

	listeners := make([]*recorder, workers)
	for i := range listeners {
		listeners[i] = &recorder{}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := native.ID(i%2 + 1)
			for j := 0; j < 200; j++ {
				Subscribe(r, id, listeners[i])
				Unsubscribe(r, id, listeners[i])
			}
		}(i)
	}

	// Dispatchers only see listeners whose event slices are not touched here.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			r.Dispatch(3, "x", nil)
			r.Stats()
		}
	}()
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
