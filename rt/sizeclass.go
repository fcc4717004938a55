package rt

// Size classes of the segregated pool allocator. Classes are total
// cell sizes: requested payload bytes plus the one-word object header.
// Requests whose cell would exceed the largest class go to the
// big-object allocator instead.
var classSizes = [...]int64{
	8, 16, 24, 32, 40, 48, 56, 64,
	80, 96, 112, 128, 144, 160, 176, 192, 208, 224, 240, 256,
	320, 384, 448, 512,
	640, 768, 896, 1024,
	1280, 1536, 1792, 2032,
}

// NumClasses is the number of pool size classes.
const NumClasses = len(classSizes)

// MaxClassSize is the largest pool cell size in bytes.
const MaxClassSize = 2032

// MaxSmallSize is the largest payload the pools serve; anything bigger
// is a big object.
const MaxSmallSize = MaxClassSize - WordBytes

// classOf maps ceil(cell/8) to a class index.
var classOf [MaxClassSize/WordBytes + 1]uint8

func init() {
	c := 0
	for i := 1; i < len(classOf); i++ {
		if int64(i)*WordBytes > classSizes[c] {
			c++
		}
		classOf[i] = uint8(c)
	}
}

// ClassSize returns the cell size of a class index.
func ClassSize(class int) int64 {
	return classSizes[class]
}

// Classify buckets a payload size. It returns the class index and the
// rounded cell size, which includes the object header; ok is false for
// sizes only the big-object allocator can serve. Size 0 is a valid
// request and lands in the smallest class, a bare header.
func Classify(size int64) (class int, osize int64, ok bool) {
	if size < 0 || size > MaxSmallSize {
		return 0, 0, false
	}
	cell := size + WordBytes
	class = int(classOf[(cell+WordBytes-1)/WordBytes])
	return class, classSizes[class], true
}
