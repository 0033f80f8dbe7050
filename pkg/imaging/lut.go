// Package imaging converts raw camera frames into RGBA display buffers
// using a lookup table, for mono and RGB sensors at 8 and 16 bits.
package imaging

import "fmt"

// DisplayImageU8 writes an RGBA rendering of an 8-bit frame into out.
// data holds width*height samples for mono (channels=1) or
// width*height*3 for RGB (channels=3). lut maps sample values to display
// brightness; values outside the table render as black. out must hold
// width*height*4 bytes.
func DisplayImageU8(data []byte, width, height int, lut []byte, channels int, out []byte) error {
	if err := checkSizes(len(data), width, height, channels, len(out)); err != nil {
		return err
	}

	pixels := width * height
	switch channels {
	case 1:
		for i := 0; i < pixels; i++ {
			v := lookup(lut, int(data[i]))
			o := i * 4
			out[o], out[o+1], out[o+2], out[o+3] = v, v, v, 255
		}
	case 3:
		for i := 0; i < pixels; i++ {
			base := i * 3
			o := i * 4
			out[o] = lookup(lut, int(data[base]))
			out[o+1] = lookup(lut, int(data[base+1]))
			out[o+2] = lookup(lut, int(data[base+2]))
			out[o+3] = 255
		}
	}
	return nil
}

// DisplayImageU16 is DisplayImageU8 for 16-bit samples. The lut is
// indexed by the full 16-bit value.
func DisplayImageU16(data []uint16, width, height int, lut []byte, channels int, out []byte) error {
	if err := checkSizes(len(data), width, height, channels, len(out)); err != nil {
		return err
	}

	pixels := width * height
	switch channels {
	case 1:
		for i := 0; i < pixels; i++ {
			v := lookup(lut, int(data[i]))
			o := i * 4
			out[o], out[o+1], out[o+2], out[o+3] = v, v, v, 255
		}
	case 3:
		for i := 0; i < pixels; i++ {
			base := i * 3
			o := i * 4
			out[o] = lookup(lut, int(data[base]))
			out[o+1] = lookup(lut, int(data[base+1]))
			out[o+2] = lookup(lut, int(data[base+2]))
			out[o+3] = 255
		}
	}
	return nil
}

func lookup(lut []byte, idx int) byte {
	if idx < 0 || idx >= len(lut) {
		return 0
	}
	return lut[idx]
}

func checkSizes(samples, width, height, channels, outLen int) error {
	if channels != 1 && channels != 3 {
		return fmt.Errorf("unsupported channel count %d", channels)
	}
	pixels := width * height
	if samples < pixels*channels {
		return fmt.Errorf("frame too short: have %d samples, need %d", samples, pixels*channels)
	}
	if outLen < pixels*4 {
		return fmt.Errorf("output too short: have %d bytes, need %d", outLen, pixels*4)
	}
	return nil
}
