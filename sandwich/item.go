package sandwich

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

// NumHolders is the number of consumers and of item kinds. The held-out
// arithmetic in HeldOut only works for exactly three.
const NumHolders = 3

// Item is one of the three ingredients. Items are encoded as 0, 1, 2.
type Item int

const (
	Bread Item = iota
	Cheese
	Meat
)

var ErrUnknownItem = errors.New("unknown item")

var itemNames = [NumHolders]string{"bread", "cheese", "meat"}

func (i Item) Valid() bool {
	return i >= 0 && i < NumHolders
}

func (i Item) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Item(%d)", int(i))
	}
	return itemNames[i]
}

func ParseItem(s string) (Item, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range itemNames {
		if n == name {
			return Item(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownItem, s)
}

// Holder identifies a consumer by index, 0 through NumHolders-1.
type Holder int

func (h Holder) Valid() bool {
	return h >= 0 && h < NumHolders
}

func (h Holder) String() string {
	return strconv.Itoa(int(h))
}

func mustHolder(h Holder) {
	if !h.Valid() {
		panic(fmt.Sprintf("sandwich: invalid holder %d", int(h)))
	}
}

// Source is the random source the agent draws from. *math/rand.Rand
// satisfies it.
type Source interface {
	Intn(n int) int
}

// Pick chooses two distinct items: the first uniformly, the second by
// resampling uniformly until it differs from the first.
func Pick(src Source) (first, second Item) {
	first = Item(src.Intn(NumHolders))
	for {
		second = Item(src.Intn(NumHolders))
		if second != first {
			return first, second
		}
	}
}

// HeldOut returns the item that is neither a nor b.
func HeldOut(a, b Item) Item {
	if !a.Valid() || !b.Valid() || a == b {
		panic(fmt.Sprintf("sandwich: no held-out item for %d and %d", int(a), int(b)))
	}
	return Item(NumHolders - int(a) - int(b))
}

// Round is one agent-selects, holder-acts, holder-acknowledges cycle.
type Round struct {
	Seq     uint64
	Items   [2]Item
	HeldOut Item
	Holder  Holder
}

func (r Round) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("seq", r.Seq)
	enc.AddString("first", r.Items[0].String())
	enc.AddString("second", r.Items[1].String())
	enc.AddString("held_out", r.HeldOut.String())
	enc.AddInt("holder", int(r.Holder))
	return nil
}

// ValidateAssignment checks that items is a permutation of all item kinds.
func ValidateAssignment(items [NumHolders]Item) error {
	var seen [NumHolders]bool
	for h, it := range items {
		if !it.Valid() {
			return fmt.Errorf("holder %d: %w: %d", h, ErrUnknownItem, int(it))
		}
		if seen[it] {
			return fmt.Errorf("holder %d: item %s assigned twice", h, it)
		}
		seen[it] = true
	}
	return nil
}
