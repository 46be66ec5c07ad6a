package rally

// token is the packed Barrier state, updated only by CAS.
//
//	Bit 63:     Draining (gate opened for this generation, not yet drained)
//	Bit 32-62:  Generation
//	Bit 0-31:   Arrived count
type token uint64

const (
	tokenDrainingBit = 1 << 63
	tokenGenShift    = 32
	tokenGenMask     = 0x7FFFFFFF
	tokenCntMask     = 0xFFFFFFFF

	// maxThreshold is the largest count the arrived field can hold.
	maxThreshold = tokenCntMask
)

func makeToken(gen, arrived uint32, draining bool) token {
	t := token(gen&tokenGenMask)<<tokenGenShift | token(arrived)
	if draining {
		t |= tokenDrainingBit
	}
	return t
}

func (t token) generation() uint32 {
	return uint32(t>>tokenGenShift) & tokenGenMask
}

func (t token) arrived() uint32 {
	return uint32(t & tokenCntMask)
}

func (t token) draining() bool {
	return t&tokenDrainingBit != 0
}

// next returns the token opening the following generation: count 0,
// not draining, generation+1 wrapped to 31 bits.
func (t token) next() token {
	return makeToken(nextGeneration(t.generation()), 0, false)
}

func nextGeneration(gen uint32) uint32 {
	return (gen + 1) & tokenGenMask
}
