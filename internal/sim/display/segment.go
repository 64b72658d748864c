package display

// Segments is the 7-bit cathode pattern for one digit, gfedcba order with a
// set bit meaning the segment is lit.
type Segments uint8

// Cathodes returns the active-low form driven onto the shared decoder output.
func (s Segments) Cathodes() uint8 { return ^uint8(s) & 0x7F }

// SegmentEncoder is the external combinational decoder boundary: one 4-bit
// digit in, seven segment signals out. The simulation ships a ROM-table
// implementation; hardware-accurate variants can be swapped in.
type SegmentEncoder interface {
	Encode(digit uint8) Segments
}

// segRom holds gfedcba patterns for digits 0..9. Out-of-range inputs render
// blank, matching a decoder that leaves unknown codes dark.
var segRom = [10]Segments{
	0x3F, // 0
	0x06, // 1
	0x5B, // 2
	0x4F, // 3
	0x66, // 4
	0x6D, // 5
	0x7D, // 6
	0x07, // 7
	0x7F, // 8
	0x6F, // 9
}

// RomEncoder is the default lookup-table segment encoder.
type RomEncoder struct{}

func (RomEncoder) Encode(digit uint8) Segments {
	if int(digit) >= len(segRom) {
		return 0
	}
	return segRom[digit]
}
