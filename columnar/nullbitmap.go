package columnar

import (
	"github.com/RoaringBitmap/roaring"
)

// nullTracker records, per row offset within the builder's current batch,
// whether a column received an explicit value (clear) or a logical null
// (set). A compressed bitmap keeps the common all-present case cheap.
type nullTracker struct {
	bitmap *roaring.Bitmap
}

func newNullTracker() *nullTracker {
	return &nullTracker{bitmap: roaring.New()}
}

func (t *nullTracker) markNull(rowOffset int) {
	t.bitmap.Add(uint32(rowOffset))
}

func (t *nullTracker) isNull(rowOffset int) bool {
	return t.bitmap.Contains(uint32(rowOffset))
}

func (t *nullTracker) reset() {
	t.bitmap.Clear()
}

// bytes serializes the bitmap in its portable wire format.
func (t *nullTracker) bytes() ([]byte, error) {
	return t.bitmap.ToBytes()
}

// nullTrackerFromBytes deserializes a bitmap previously produced by bytes().
func nullTrackerFromBytes(b []byte) (*nullTracker, error) {
	bm := roaring.New()
	if len(b) > 0 {
		if _, err := bm.FromUnsafeBytes(b); err != nil {
			return nil, err
		}
	}
	return &nullTracker{bitmap: bm}, nil
}
