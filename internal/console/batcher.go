package console

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/patchbay/internal/native"
	"github.com/dshills/patchbay/internal/workqueue"
)

// Defaults for a Batcher.
const (
	DefaultRetention       = 800
	DefaultDebounce        = 10 * time.Millisecond
	DefaultMaxDelay        = 100 * time.Millisecond
	DefaultPendingCapacity = 8192
)

// State is the batcher's flush state.
type State int32

const (
	// StateIdle means nothing is pending and no timer is armed.
	StateIdle State = iota

	// StateAccumulating means lines are pending and the debounce timer is armed.
	StateAccumulating

	// StateFlushing means a flush has been handed to the scheduler.
	StateFlushing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Batch summarises one flush. It is what the front-end is notified with.
type Batch struct {
	// Received is the number of lines taken from the pending queue.
	Received int

	// Appended is the number of new records created.
	Appended int

	// Coalesced is the number of lines folded into an existing record.
	Coalesced int

	// Evicted is the number of old records dropped to honour retention.
	Evicted int

	// HadWarningOrError is true if any received line was a warning or error.
	HadWarningOrError bool
}

// BatchFunc is notified once per non-empty flush, on the scheduler's goroutine.
type BatchFunc func(Batch)

type pendingLine struct {
	origin   native.ID
	text     string
	severity Severity
}

// Batcher is the console pipeline. Producers may call Submit, Print and the
// Log methods from any goroutine. Clear, Restore and Flush belong to the
// consumer.
type Batcher struct {
	cfg batcherConfig

	pending *workqueue.Ring[pendingLine]
	muted   atomic.Bool

	// Fragment assembly, per origin.
	asmMu      sync.Mutex
	assemblers map[native.ID]*Assembler

	// Timer state machine.
	timerMu sync.Mutex
	state   State
	timer   Timer
	gen     uint64
	first   time.Time

	// Records.
	flushMu sync.Mutex
	mu      sync.RWMutex
	live    *deque.Deque[Record]
	history *deque.Deque[Record]
	lineSeq uint64 // lines popped so far, guarded by mu

	// Stats
	submitted     atomic.Uint64
	coalesced     atomic.Uint64
	appended      atomic.Uint64
	evicted       atomic.Uint64
	dropped       atomic.Uint64
	truncated     atomic.Uint64
	mutedLines    atomic.Uint64
	flushes       atomic.Uint64
	scheduleFails atomic.Uint64
}

// Option configures a Batcher.
type Option func(*batcherConfig)

type batcherConfig struct {
	retention        int
	debounce         time.Duration
	maxDelay         time.Duration
	assemblyCapacity int
	pendingCapacity  int
	muted            bool
	scheduler        Scheduler
	clock            Clock
	onBatch          BatchFunc
	logger           *zap.Logger
}

// WithRetention sets the maximum number of live records.
func WithRetention(n int) Option {
	return func(c *batcherConfig) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithDebounce sets the quiet period after the last submission before a flush.
func WithDebounce(d time.Duration) Option {
	return func(c *batcherConfig) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithMaxDelay caps how long a pending line can wait while submissions keep
// restarting the debounce timer. Zero disables the cap.
func WithMaxDelay(d time.Duration) Option {
	return func(c *batcherConfig) {
		if d >= 0 {
			c.maxDelay = d
		}
	}
}

// WithAssemblyCapacity sets the longest assembled line in bytes.
func WithAssemblyCapacity(n int) Option {
	return func(c *batcherConfig) {
		if n > 0 {
			c.assemblyCapacity = n
		}
	}
}

// WithPendingCapacity sets the size of the pending ring.
func WithPendingCapacity(n int) Option {
	return func(c *batcherConfig) {
		if n > 0 {
			c.pendingCapacity = n
		}
	}
}

// WithMuted starts the batcher muted.
func WithMuted(muted bool) Option {
	return func(c *batcherConfig) {
		c.muted = muted
	}
}

// WithScheduler sets where flushes run. Without one, flushes run on the timer
// goroutine.
func WithScheduler(s Scheduler) Option {
	return func(c *batcherConfig) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) Option {
	return func(c *batcherConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithOnBatch sets the function notified after each non-empty flush.
func WithOnBatch(fn BatchFunc) Option {
	return func(c *batcherConfig) {
		c.onBatch = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *batcherConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a batcher.
func New(opts ...Option) *Batcher {
	cfg := batcherConfig{
		retention:        DefaultRetention,
		debounce:         DefaultDebounce,
		maxDelay:         DefaultMaxDelay,
		assemblyCapacity: DefaultAssemblyCapacity,
		pendingCapacity:  DefaultPendingCapacity,
		scheduler:        runInline,
		clock:            realClock{},
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.Named("console")

	b := &Batcher{
		cfg:        cfg,
		pending:    workqueue.NewRing[pendingLine](cfg.pendingCapacity),
		assemblers: make(map[native.ID]*Assembler),
		live:       new(deque.Deque[Record]),
		history:    new(deque.Deque[Record]),
	}
	b.muted.Store(cfg.muted)
	return b
}

// Submit queues a complete line. Never blocks on the consumer.
func (b *Batcher) Submit(origin native.ID, text string, severity Severity) error {
	if b.muted.Load() {
		b.mutedLines.Add(1)
		return ErrMuted
	}

	line := pendingLine{
		origin:   origin,
		text:     text,
		severity: severity,
	}
	if !b.pending.Push(line) {
		b.dropped.Add(1)
		return ErrPendingFull
	}
	b.submitted.Add(1)
	b.kick()
	return nil
}

// LogMessage submits an info line.
func (b *Batcher) LogMessage(origin native.ID, text string) error {
	return b.Submit(origin, text, SeverityInfo)
}

// LogWarning submits a warning line.
func (b *Batcher) LogWarning(origin native.ID, text string) error {
	return b.Submit(origin, text, SeverityWarning)
}

// LogError submits an error line.
func (b *Batcher) LogError(origin native.ID, text string) error {
	return b.Submit(origin, text, SeverityError)
}

type assembledLine struct {
	text      string
	truncated bool
}

// Print accepts a raw output fragment. Complete lines are classified by their
// severity marker and submitted; a trailing partial line waits for the rest.
func (b *Batcher) Print(origin native.ID, fragment string) {
	var lines []assembledLine

	b.asmMu.Lock()
	asm, ok := b.assemblers[origin]
	if !ok {
		asm = NewAssembler(b.cfg.assemblyCapacity)
		b.assemblers[origin] = asm
	}
	asm.Write(fragment, func(line string, truncated bool) {
		lines = append(lines, assembledLine{text: line, truncated: truncated})
	})
	b.asmMu.Unlock()

	b.submitAssembled(origin, lines)
}

// ReleaseOrigin submits any partial line assembled for origin and forgets
// its buffer. Called when the origin is destroyed.
func (b *Batcher) ReleaseOrigin(origin native.ID) {
	var lines []assembledLine

	b.asmMu.Lock()
	if asm, ok := b.assemblers[origin]; ok {
		asm.Flush(func(line string, truncated bool) {
			lines = append(lines, assembledLine{text: line, truncated: truncated})
		})
		delete(b.assemblers, origin)
	}
	b.asmMu.Unlock()

	b.submitAssembled(origin, lines)
}

func (b *Batcher) submitAssembled(origin native.ID, lines []assembledLine) {
	for _, l := range lines {
		if l.truncated {
			b.truncated.Add(1)
		}
		sev, text := Classify(l.text)
		_ = b.Submit(origin, text, sev)
	}
}

// SetMuted mutes or unmutes the console. Lines submitted while muted are
// discarded.
func (b *Batcher) SetMuted(muted bool) {
	b.muted.Store(muted)
}

// Muted returns true if the console is muted.
func (b *Batcher) Muted() bool {
	return b.muted.Load()
}

// State returns the current flush state.
func (b *Batcher) State() State {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()
	return b.state
}

// kick arms or restarts the debounce timer after a submission.
func (b *Batcher) kick() {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	switch b.state {
	case StateIdle:
		b.armLocked()
	case StateAccumulating:
		b.timer.Reset(b.nextDelayLocked())
	case StateFlushing:
		// The running flush re-arms if lines are left over.
	}
}

// armLocked moves to Accumulating with a fresh timer. timerMu must be held.
func (b *Batcher) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	b.state = StateAccumulating
	b.first = b.cfg.clock.Now()

	gen := b.gen
	b.timer = b.cfg.clock.AfterFunc(b.cfg.debounce, func() { b.fire(gen) })
}

func (b *Batcher) nextDelayLocked() time.Duration {
	delay := b.cfg.debounce
	if b.cfg.maxDelay <= 0 {
		return delay
	}
	remaining := b.cfg.maxDelay - b.cfg.clock.Now().Sub(b.first)
	if remaining < 0 {
		remaining = 0
	}
	if remaining < delay {
		return remaining
	}
	return delay
}

// fire runs on the timer goroutine.
func (b *Batcher) fire(gen uint64) {
	b.timerMu.Lock()
	if gen != b.gen || b.state != StateAccumulating {
		b.timerMu.Unlock()
		return
	}
	b.state = StateFlushing
	b.timerMu.Unlock()

	if err := b.cfg.scheduler.Enqueue(b.scheduledFlush); err != nil {
		b.scheduleFails.Add(1)
		b.cfg.logger.Warn("console flush not scheduled, retrying", zap.Error(err))
		b.timerMu.Lock()
		b.armLocked()
		b.timerMu.Unlock()
	}
}

func (b *Batcher) scheduledFlush() {
	b.flush()
}

// Flush drains pending lines into the record sequence now, cancelling any
// armed timer. It runs the batch notification on the calling goroutine.
func (b *Batcher) Flush() Batch {
	b.timerMu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	b.state = StateFlushing
	b.timerMu.Unlock()

	return b.flush()
}

func (b *Batcher) flush() Batch {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var batch Batch
	b.mu.Lock()
	for {
		line, ok := b.pending.Pop()
		if !ok {
			break
		}
		batch.Received++
		b.lineSeq++
		if line.severity.IsProblem() {
			batch.HadWarningOrError = true
		}

		if n := b.live.Len(); n > 0 {
			last := b.live.Back()
			if last.matches(line.origin, line.text, line.severity) {
				last.Repeats++
				b.live.Set(n-1, last)
				batch.Coalesced++
				continue
			}
		}

		b.live.PushBack(newRecord(line.origin, line.text, line.severity, b.lineSeq))
		batch.Appended++
		for b.live.Len() > b.cfg.retention {
			b.live.PopFront()
			batch.Evicted++
		}
	}
	b.mu.Unlock()

	b.coalesced.Add(uint64(batch.Coalesced))
	b.appended.Add(uint64(batch.Appended))
	b.evicted.Add(uint64(batch.Evicted))

	b.timerMu.Lock()
	b.state = StateIdle
	if b.pending.Len() > 0 {
		b.armLocked()
	}
	b.timerMu.Unlock()

	if batch.Received > 0 {
		b.flushes.Add(1)
		if b.cfg.onBatch != nil {
			b.cfg.onBatch(batch)
		}
	}
	return batch
}

// Clear moves the live records into history, replacing any previous
// history, and leaves the live sequence empty. Returns the number moved.
func (b *Batcher) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.live.Len()
	b.history = b.live
	b.live = new(deque.Deque[Record])
	return n
}

// Restore puts the history back in front of the live records and empties
// history. Retention still applies; the oldest records are evicted first.
// Returns the number restored.
func (b *Batcher) Restore() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.history.Len()
	for i := n - 1; i >= 0; i-- {
		b.live.PushFront(b.history.At(i))
	}
	b.history.Clear()

	evicted := 0
	for b.live.Len() > b.cfg.retention {
		b.live.PopFront()
		evicted++
	}
	b.evicted.Add(uint64(evicted))
	return n
}

// Len returns the number of live records.
func (b *Batcher) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live.Len()
}

// HistoryLen returns the number of cleared records available to Restore.
func (b *Batcher) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.Len()
}

// At returns the live record at index i, oldest first.
func (b *Batcher) At(i int) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if i < 0 || i >= b.live.Len() {
		return Record{}, false
	}
	return b.live.At(i), true
}

// Records returns a snapshot of the live records, oldest first.
func (b *Batcher) Records() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.live, ShowAll)
}

// History returns a snapshot of the cleared records.
func (b *Batcher) History() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.history, ShowAll)
}

// Visible returns the live records that pass the filter.
func (b *Batcher) Visible(f Filter) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.live, f)
}

func snapshot(d *deque.Deque[Record], f Filter) []Record {
	out := make([]Record, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		r := d.At(i)
		if f.Visible(r) {
			out = append(out, r)
		}
	}
	return out
}

// TotalHeight returns the height of the visible records laid out at width.
func (b *Batcher) TotalHeight(width int, f Filter, l Layout) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for i := 0; i < b.live.Len(); i++ {
		r := b.live.At(i)
		if !f.Visible(r) {
			continue
		}
		total += l.Height(r, width)
	}
	return total + l.Margin
}

// CopyText returns the text of the given live records, one per line, in the
// order given.
func (b *Batcher) CopyText(indices ...int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	for _, i := range indices {
		if i < 0 || i >= b.live.Len() {
			return "", ErrInvalidIndex
		}
		sb.WriteString(b.live.At(i).Text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// ExportJSON returns the live records as a JSON document:
//
//	{"records":[{"seq":1,"origin":"0x1","severity":"info","text":"...","repeats":1}],"history":0}
func (b *Batcher) ExportJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc := []byte(`{"records":[]}`)
	for i := 0; i < b.live.Len(); i++ {
		rec, err := RecordJSON(b.live.At(i))
		if err != nil {
			return nil, err
		}
		if doc, err = sjson.SetRawBytes(doc, "records.-1", rec); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(doc, "history", b.history.Len())
}

// RecordJSON encodes a single record as a JSON object.
func RecordJSON(r Record) ([]byte, error) {
	fields := []struct {
		key   string
		value any
	}{
		{"seq", r.Seq},
		{"origin", r.Origin.String()},
		{"severity", r.Severity.String()},
		{"text", r.Text},
		{"repeats", r.Repeats},
	}

	doc := []byte(`{}`)
	var err error
	for _, f := range fields {
		if doc, err = sjson.SetBytes(doc, f.key, f.value); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Stats contains console statistics.
type Stats struct {
	// Submitted is the number of lines accepted into the pending queue.
	Submitted uint64

	// Coalesced is the number of lines folded into an existing record.
	Coalesced uint64

	// Appended is the number of records created.
	Appended uint64

	// Evicted is the number of records dropped by retention.
	Evicted uint64

	// Dropped is the number of lines rejected by a full pending queue.
	Dropped uint64

	// Truncated is the number of lines cut at assembly capacity.
	Truncated uint64

	// Muted is the number of lines discarded while muted.
	Muted uint64

	// Flushes is the number of non-empty flushes.
	Flushes uint64

	// ScheduleFailures is the number of flushes the scheduler refused.
	ScheduleFailures uint64

	// Records is the current number of live records.
	Records int

	// History is the current number of cleared records.
	History int

	// Pending is the approximate number of lines waiting for a flush.
	Pending int
}

// Stats returns current console statistics.
func (b *Batcher) Stats() Stats {
	b.mu.RLock()
	records, history := b.live.Len(), b.history.Len()
	b.mu.RUnlock()

	return Stats{
		Submitted:        b.submitted.Load(),
		Coalesced:        b.coalesced.Load(),
		Appended:         b.appended.Load(),
		Evicted:          b.evicted.Load(),
		Dropped:          b.dropped.Load(),
		Truncated:        b.truncated.Load(),
		Muted:            b.mutedLines.Load(),
		Flushes:          b.flushes.Load(),
		ScheduleFailures: b.scheduleFails.Load(),
		Records:          records,
		History:          history,
		Pending:          b.pending.Len(),
	}
}
