package table

import "reflect"

// newZeroLike allocates a new *T (T = type of sample) for gob to decode
// into, so GobCodec.Decode can hand back a plain T rather than a pointer.
func newZeroLike(sample interface{}) interface{} {
	t := reflect.TypeOf(sample)
	return reflect.New(t).Interface()
}

// derefIfPointer returns *ptr as a plain value matching the shape of
// sample (which was never itself a pointer).
func derefIfPointer(ptr interface{}, sample interface{}) interface{} {
	if reflect.TypeOf(sample).Kind() == reflect.Ptr {
		return ptr
	}
	return reflect.ValueOf(ptr).Elem().Interface()
}
