package shared

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlagSetClearWait(t *testing.T) {
	f := NewFlag()
	assert.False(t, f.IsSet())
	assert.False(t, f.Wait(10*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Set()
	}()
	assert.True(t, f.Wait(time.Second))
	assert.True(t, f.IsSet())

	f.Clear()
	assert.False(t, f.IsSet())
	assert.False(t, f.Wait(10*time.Millisecond))
}

func TestBitFlagCombinedTest(t *testing.T) {
	b := NewBitFlag("processing", "running_main", "stop_attempt")
	assert.False(t, b.Test("processing"))

	b.Set("processing", "running_main")
	assert.True(t, b.Test("processing"))
	assert.True(t, b.Test("processing", "running_main"))
	// all named flags must be set, not just one of them
	assert.False(t, b.Test("processing", "stop_attempt"))

	b.Clear("running_main")
	assert.False(t, b.Test("processing", "running_main"))
	assert.True(t, b.Test("processing"))

	b.Clear()
	assert.False(t, b.Test("processing"))
}

func TestBitFlagWait(t *testing.T) {
	b := NewBitFlag("paused", "resuming")
	assert.False(t, b.Wait(10*time.Millisecond, "paused"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Set("paused")
		time.Sleep(10 * time.Millisecond)
		b.Set("resuming")
	}()
	assert.True(t, b.Wait(time.Second, "paused", "resuming"))
}

func TestBitFlagUnknownNamePanics(t *testing.T) {
	b := NewBitFlag("known")
	assert.Panics(t, func() { b.Set("unknown") })
}

func TestCounterObservers(t *testing.T) {
	c := NewCounter()
	var mu sync.Mutex
	var seen []int
	c.Observe(func(count int) {
		mu.Lock()
		seen = append(seen, count)
		mu.Unlock()
	})
	c.Increment()
	c.Increment()
	c.Decrement()
	assert.Equal(t, 1, c.Count())
	mu.Lock()
	assert.Equal(t, []int{1, 2, 1}, seen)
	mu.Unlock()
}

func TestPoolsJoinAndPrune(t *testing.T) {
	counter := NewCounter()
	pools := NewPools(counter)

	h1 := NewHandle()
	h2 := NewHandle()
	pools.Add("default", h1)
	pools.Add("aux", h2)
	assert.Equal(t, 2, counter.Count())

	go func() {
		time.Sleep(10 * time.Millisecond)
		h1.Done(nil)
		h2.Done(errors.New("boom"))
	}()
	pools.JoinAll()
	assert.Equal(t, 0, counter.Count())
	assert.Empty(t, pools.Names())

	assert.NoError(t, h1.Join())
	assert.EqualError(t, h2.Join(), "boom")
}

func TestHandleDoneReturnsActiveShare(t *testing.T) {
	counter := NewCounter()
	pools := NewPools(counter)

	h := NewHandle()
	pools.Add("default", h)
	assert.Equal(t, 1, counter.Count())

	h.Done(nil)
	assert.Equal(t, 0, counter.Count())

	// the finished handle stays listed until pruned
	assert.Equal(t, []string{"default"}, pools.Names())
	pools.Prune("default")
	assert.Empty(t, pools.Names())
	assert.Equal(t, 0, counter.Count())
}

func TestPoolsAccessors(t *testing.T) {
	pools := NewPools(nil)
	pools.Add("default", NewHandle())

	var got int
	pools.Access("default", func(handles []*Handle) { got = len(handles) })
	assert.Equal(t, 1, got)

	ran := pools.TryLocked(func(all map[string][]*Handle) {
		assert.Len(t, all["default"], 1)
	})
	assert.True(t, ran)
}

type fakeResource struct {
	priority int
	log      *[]string
	id       string
}

func (f *fakeResource) Priority() int { return f.priority }
func (f *fakeResource) Release()      { *f.log = append(*f.log, "release:"+f.id) }
func (f *fakeResource) Reset()        { *f.log = append(*f.log, "reset:"+f.id) }

func TestRegistryReleaseOrder(t *testing.T) {
	reg := NewRegistry()
	var log []string
	reg.Register("files", &fakeResource{priority: 100, log: &log, id: "files"})
	reg.Register("threads", &fakeResource{priority: 0, log: &log, id: "threads"})
	reg.Register("instrs", &fakeResource{priority: 50, log: &log, id: "instrs"})

	reg.ReleaseAll()
	assert.Equal(t, []string{"release:threads", "release:instrs", "release:files"}, log)

	log = nil
	reg.ResetAll()
	assert.Equal(t, []string{"reset:threads", "reset:instrs", "reset:files"}, log)
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error { c.closed = true; return nil }

func TestFileResource(t *testing.T) {
	files := NewFileResource()
	f := &closeRecorder{}
	files.Add("/tmp/data.csv", f)
	_, ok := files.Get("/tmp/data.csv")
	assert.True(t, ok)

	files.Release()
	assert.True(t, f.closed)
	_, ok = files.Get("/tmp/data.csv")
	assert.False(t, ok)
}

type fakeInstrument struct{ stopped, reset bool }

func (f *fakeInstrument) Stop() error  { f.stopped = true; return nil }
func (f *fakeInstrument) Reset() error { f.reset = true; return nil }

func TestInstrumentResource(t *testing.T) {
	instrs := NewInstrumentResource()
	instr := &fakeInstrument{}
	instrs.Add("lock-in", instr)

	instrs.Reset()
	assert.True(t, instr.reset)

	instrs.Release()
	assert.True(t, instr.stopped)
	_, ok := instrs.Get("lock-in")
	assert.False(t, ok)
}
