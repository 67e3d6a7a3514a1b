package distribution

import (
	"fmt"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// HashValue returns a deterministic hash of a row value. Equal values of the
// same type always hash to the same result, in every process of the cluster.
//
// Integers are folded to 32 bits so that small non-negative integers hash to
// themselves. A pointer hashes like the value it points to and a nil pointer
// like nil. Channels and functions carry no value and all hash to 0. Pointers
// nested inside slices, maps or structs are formatted by address, so rows
// must hold such composites by value.
func HashValue(v interface{}) uint32 {
	switch v := v.(type) {
	case nil:
		return 0
	case int:
		return hashInt64(int64(v))
	case int8:
		return hashInt64(int64(v))
	case int16:
		return hashInt64(int64(v))
	case int32:
		return hashInt64(int64(v))
	case int64:
		return hashInt64(v)
	case uint:
		return hashInt64(int64(v))
	case uint8:
		return hashInt64(int64(v))
	case uint16:
		return hashInt64(int64(v))
	case uint32:
		return hashInt64(int64(v))
	case uint64:
		return hashInt64(int64(v))
	case float32:
		return hashInt64(int64(math.Float64bits(float64(v))))
	case float64:
		return hashInt64(int64(math.Float64bits(v)))
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		return fold(xxhash.Sum64String(v))
	case []byte:
		return fold(xxhash.Sum64(v))
	case fmt.Stringer:
		return fold(xxhash.Sum64String(v.String()))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return 0
		}
		return HashValue(rv.Elem().Interface())
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return 0
	default:
		return fold(xxhash.Sum64String(fmt.Sprintf("%v", v)))
	}
}

func hashInt64(v int64) uint32 {
	return fold(uint64(v))
}

func fold(h uint64) uint32 {
	return uint32(h ^ (h >> 32))
}
