package vm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Handle is a generational index into the typed object region.
//
// Layout: low 24 bits slot index, high 8 bits generation. Index 0 is never
// handed out, so the zero Handle is null and matches the Null slot. A slot
// whose generation is spent is retired rather than reused, so a released
// handle never resolves again.
type Handle uint32

// WildHandle is a generational index into the untyped region.
type WildHandle uint32

const (
	handleIndexBits = 24
	handleIndexMask = 1<<handleIndexBits - 1
	maxGeneration   = 1<<(32-handleIndexBits) - 1

	// MaxHeapSlots is the largest number of slots a region can address.
	MaxHeapSlots = handleIndexMask
)

func makeHandle(index uint32, gen uint8) uint32 {
	return uint32(gen)<<handleIndexBits | index&handleIndexMask
}

func splitHandle(h uint32) (index uint32, gen uint8) {
	return h & handleIndexMask, uint8(h >> handleIndexBits)
}

// String implements the Stringer interface.
func (h Handle) String() string {
	if h == 0 {
		return "null"
	}
	idx, gen := splitHandle(uint32(h))
	return fmt.Sprintf("#%d.%d", idx, gen)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrOutOfMemory is returned when a region is full and cannot grow.
	ErrOutOfMemory = errors.New("heap exhausted")

	// ErrStaleHandle is returned for null, freed or reused handles.
	ErrStaleHandle = errors.New("stale heap handle")
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Nominal bytes charged per slot. Capacity is a byte budget; slots are
// carved from it at these rates.
const (
	TypedSlotBytes = 128
	WildSlotBytes  = 64
)

// HeapConfig sizes a heap.
type HeapConfig struct {
	InitialSize int64 // byte budget at creation
	MaxSize     int64 // growth cap
	Growable    bool  // double the budget on exhaustion
	TypedShare  int   // typed:wild split of the budget
	WildShare   int
	BlockSlots  int // slots per stable block
}

// DefaultHeapConfig returns a 256MB heap growable to 1GB, split 3:1.
func DefaultHeapConfig() HeapConfig {
	return HeapConfig{
		InitialSize: 256 << 20,
		MaxSize:     1 << 30,
		Growable:    true,
		TypedShare:  3,
		WildShare:   1,
		BlockSlots:  4096,
	}
}

func (c HeapConfig) normalized() HeapConfig {
	d := DefaultHeapConfig()
	if c.InitialSize <= 0 {
		c.InitialSize = d.InitialSize
	}
	if c.MaxSize < c.InitialSize {
		c.MaxSize = c.InitialSize
	}
	if c.TypedShare <= 0 && c.WildShare <= 0 {
		c.TypedShare, c.WildShare = d.TypedShare, d.WildShare
	}
	if c.TypedShare < 0 {
		c.TypedShare = 0
	}
	if c.WildShare < 0 {
		c.WildShare = 0
	}
	if c.BlockSlots <= 0 {
		c.BlockSlots = d.BlockSlots
	}
	return c
}

// ---------------------------------------------------------------------------
// region: one homogeneous arena
// ---------------------------------------------------------------------------

type cell[T any] struct {
	gen  uint8
	live bool
	refs int32
	val  T
}

// region is a block list of cells. Blocks never move once allocated, so
// growth never invalidates an issued handle.
type region[T any] struct {
	blocks    [][]cell[T]
	blockSize int
	next      uint32   // bump pointer: first never-used index
	free      []uint32 // released indices ready for reuse
	live      int
	retired   int // slots whose generations are spent
	limit     int // live slots allowed under the current budget
}

func newRegion[T any](blockSize int) *region[T] {
	return &region[T]{blockSize: blockSize, next: 1}
}

func (r *region[T]) at(index uint32) *cell[T] {
	b := int(index) / r.blockSize
	if b >= len(r.blocks) {
		return nil
	}
	return &r.blocks[b][int(index)%r.blockSize]
}

// reserve claims a slot index, or returns false if the budget is spent.
func (r *region[T]) reserve() (uint32, bool) {
	if r.live >= r.limit {
		return 0, false
	}
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		return idx, true
	}
	// index 0 is reserved
	if r.next > MaxHeapSlots {
		return 0, false
	}
	idx := r.next
	r.next++
	for int(idx)/r.blockSize >= len(r.blocks) {
		r.blocks = append(r.blocks, make([]cell[T], r.blockSize))
	}
	return idx, true
}

func (r *region[T]) lookup(h uint32) (*cell[T], bool) {
	idx, gen := splitHandle(h)
	if idx == 0 {
		return nil, false
	}
	c := r.at(idx)
	if c == nil || !c.live || c.gen != gen {
		return nil, false
	}
	return c, true
}

// release clears a cell and bumps its generation so old handles go stale.
// A cell at the last generation is retired instead of freed.
func (r *region[T]) release(idx uint32, c *cell[T]) {
	var zero T
	c.val = zero
	c.live = false
	c.refs = 0
	r.live--
	if c.gen == maxGeneration {
		r.retired++
		return
	}
	c.gen++
	r.free = append(r.free, idx)
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap owns object storage for one or more machines.
//
// The typed region holds *Object; the wild region holds arbitrary payload
// data. Every allocation starts with one reference; when Release drops the
// count to zero the slot is cleared and the handles the object held are
// released in turn.
//
// A single mutex guards region bookkeeping. Mutation of an object's own
// contents is guarded by the object's lock.
type Heap struct {
	mu       sync.Mutex
	cfg      HeapConfig
	capacity int64
	grows    int

	typed *region[*Object]
	wild  *region[any]

	log commonlog.Logger
}

// HeapStats is a snapshot of heap usage.
type HeapStats struct {
	Capacity   int64
	MaxSize    int64
	Grows      int
	TypedLive  int
	TypedLimit int
	WildLive   int
	WildLimit  int
	Retired    int // slots retired across both regions
}

// NewHeap creates a heap. Zero fields in cfg take their defaults.
func NewHeap(cfg HeapConfig) *Heap {
	cfg = cfg.normalized()
	h := &Heap{
		cfg:      cfg,
		capacity: cfg.InitialSize,
		typed:    newRegion[*Object](cfg.BlockSlots),
		wild:     newRegion[any](cfg.BlockSlots),
		log:      commonlog.GetLogger("tern.heap"),
	}
	h.applyLimits()
	return h
}

var (
	sharedHeap     *Heap
	sharedHeapOnce sync.Once
)

// SharedHeap returns the process-wide heap, creating it with the default
// configuration on first use.
func SharedHeap() *Heap {
	sharedHeapOnce.Do(func() {
		sharedHeap = NewHeap(DefaultHeapConfig())
	})
	return sharedHeap
}

// Config returns the heap's effective configuration.
func (h *Heap) Config() HeapConfig {
	return h.cfg
}

func (h *Heap) applyLimits() {
	total := h.cfg.TypedShare + h.cfg.WildShare
	typedBytes := h.capacity * int64(h.cfg.TypedShare) / int64(total)
	wildBytes := h.capacity - typedBytes
	h.typed.limit = clampSlots(typedBytes / TypedSlotBytes)
	h.wild.limit = clampSlots(wildBytes / WildSlotBytes)
}

func clampSlots(n int64) int {
	if n > MaxHeapSlots {
		return MaxHeapSlots
	}
	return int(n)
}

// grow doubles the budget up to the cap. Caller holds h.mu.
func (h *Heap) grow() bool {
	if !h.cfg.Growable || h.capacity >= h.cfg.MaxSize {
		return false
	}
	next := h.capacity * 2
	if next > h.cfg.MaxSize {
		next = h.cfg.MaxSize
	}
	h.log.Infof("heap grow %d -> %d bytes", h.capacity, next)
	h.capacity = next
	h.grows++
	h.applyLimits()
	return true
}

// ---------------------------------------------------------------------------
// Typed region
// ---------------------------------------------------------------------------

// Alloc stores obj and returns a handle holding one reference.
func (h *Heap) Alloc(obj *Object) (Handle, error) {
	return h.AllocWith(func() *Object { return obj })
}

// AllocWith reserves a slot and then calls factory to build the object in
// place. If the factory panics the slot is returned to the free list.
func (h *Heap) AllocWith(factory func() *Object) (Handle, error) {
	h.mu.Lock()
	idx, ok := h.typed.reserve()
	for !ok && h.grow() {
		idx, ok = h.typed.reserve()
	}
	if !ok {
		h.mu.Unlock()
		h.log.Warningf("typed region exhausted at %d bytes", h.capacity)
		return 0, fmt.Errorf("%w: typed region full (%d slots)", ErrOutOfMemory, h.typed.limit)
	}
	c := h.typed.at(idx)
	c.live = true
	c.refs = 1
	h.typed.live++
	handle := Handle(makeHandle(idx, c.gen))
	h.mu.Unlock()

	built := false
	defer func() {
		if !built {
			h.mu.Lock()
			h.typed.release(idx, c)
			h.mu.Unlock()
		}
	}()
	obj := factory()
	if obj == nil {
		panic("vm: heap factory returned nil")
	}
	obj.handle = handle

	h.mu.Lock()
	c.val = obj
	h.mu.Unlock()
	built = true
	return handle, nil
}

// Object dereferences a handle.
func (h *Heap) Object(handle Handle) (*Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.typed.lookup(uint32(handle))
	if !ok || c.val == nil {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, handle)
	}
	return c.val, nil
}

// Retain adds a reference to handle.
func (h *Heap) Retain(handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.typed.lookup(uint32(handle))
	if !ok {
		return fmt.Errorf("%w: retain %s", ErrStaleHandle, handle)
	}
	c.refs++
	return nil
}

// Release drops a reference. At zero the slot is freed and every handle
// the object held is released, iteratively.
func (h *Heap) Release(handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.typed.lookup(uint32(handle))
	if !ok {
		return fmt.Errorf("%w: release %s", ErrStaleHandle, handle)
	}
	c.refs--
	if c.refs > 0 {
		return nil
	}

	pending := []Handle{handle}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		idx, _ := splitHandle(uint32(cur))
		cc, ok := h.typed.lookup(uint32(cur))
		if !ok {
			continue
		}
		if cur != handle {
			cc.refs--
			if cc.refs > 0 {
				continue
			}
		}
		obj := cc.val
		h.typed.release(idx, cc)
		if obj != nil {
			pending = append(pending, obj.children()...)
			obj.handle = 0
		}
	}
	return nil
}

// RefCount returns the number of references held on handle.
func (h *Heap) RefCount(handle Handle) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.typed.lookup(uint32(handle))
	if !ok {
		return 0
	}
	return int(c.refs)
}

// ---------------------------------------------------------------------------
// Wild region
// ---------------------------------------------------------------------------

// AllocWild stores an arbitrary value and returns a handle holding one
// reference.
func (h *Heap) AllocWild(v any) (WildHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.wild.reserve()
	for !ok && h.grow() {
		idx, ok = h.wild.reserve()
	}
	if !ok {
		h.log.Warningf("wild region exhausted at %d bytes", h.capacity)
		return 0, fmt.Errorf("%w: wild region full (%d slots)", ErrOutOfMemory, h.wild.limit)
	}
	c := h.wild.at(idx)
	c.live = true
	c.refs = 1
	c.val = v
	h.wild.live++
	return WildHandle(makeHandle(idx, c.gen)), nil
}

// Wild dereferences a wild handle.
func (h *Heap) Wild(handle WildHandle) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.wild.lookup(uint32(handle))
	if !ok {
		return nil, fmt.Errorf("%w: wild %d", ErrStaleHandle, handle)
	}
	return c.val, nil
}

// RetainWild adds a reference to a wild handle.
func (h *Heap) RetainWild(handle WildHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.wild.lookup(uint32(handle))
	if !ok {
		return fmt.Errorf("%w: wild %d", ErrStaleHandle, handle)
	}
	c.refs++
	return nil
}

// ReleaseWild drops a reference to a wild handle.
func (h *Heap) ReleaseWild(handle WildHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.wild.lookup(uint32(handle))
	if !ok {
		return fmt.Errorf("%w: wild %d", ErrStaleHandle, handle)
	}
	c.refs--
	if c.refs <= 0 {
		idx, _ := splitHandle(uint32(handle))
		h.wild.release(idx, c)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// Stats returns a usage snapshot.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeapStats{
		Capacity:   h.capacity,
		MaxSize:    h.cfg.MaxSize,
		Grows:      h.grows,
		TypedLive:  h.typed.live,
		TypedLimit: h.typed.limit,
		WildLive:   h.wild.live,
		WildLimit:  h.wild.limit,
		Retired:    h.typed.retired + h.wild.retired,
	}
}

// Reset drops every allocation and restores the initial budget. Handles
// issued before Reset must not be used afterwards.
func (h *Heap) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typed = newRegion[*Object](h.cfg.BlockSlots)
	h.wild = newRegion[any](h.cfg.BlockSlots)
	h.capacity = h.cfg.InitialSize
	h.grows = 0
	h.applyLimits()
}
