package store

// djb2 is the hash used to place a key into an on-disk collision chain and,
// reused by the cache package, to route a key to a cache set. Seed 5381,
// multiplier 33, unsigned 64-bit arithmetic (wrap-around is intentional).
func djb2(data []byte) uint64 {
	var h uint64 = 5381
	for _, b := range data {
		h = h*33 + uint64(b)
	}
	return h
}

// Djb2 exposes djb2 to other packages (cache set routing) so the whole
// module hashes keys the same way.
func Djb2(data []byte) uint64 { return djb2(data) }

// HashID is hash64 from the design's slave-descriptor rule:
// id = hash64("<port>:<host>"), seed 1125899906842597, multiplier 31.
func HashID(s string) uint64 {
	var h uint64 = 1125899906842597
	for _, b := range []byte(s) {
		h = h*31 + uint64(b)
	}
	return h
}
