package frame

import "fmt"

// maxBlock is the largest number of data bytes a single COBS code byte can cover.
const maxBlock = 254

// Stuff applies Consistent Overhead Byte Stuffing to data.
//
// The result contains no 0x00 byte and does not include the Delimiter.
// An empty input encodes to the single byte 0x01.
func Stuff(data []byte) []byte {
	out := make([]byte, 1, len(data)+len(data)/maxBlock+2)
	codePos := 0
	code := byte(1)

	for _, b := range data {
		if b != 0 {
			out = append(out, b)
			code++
		}
		if b == 0 || code == maxBlock+1 {
			out[codePos] = code
			codePos = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codePos] = code

	return out
}

// Unstuff reverses Stuff.
//
// It returns ErrMalformedFrame if data contains a 0x00 byte or a code byte
// that points past the end of the input.
func Unstuff(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		code := int(data[i])
		if code == 0 {
			return nil, fmt.Errorf("%w: zero byte at offset %d", ErrMalformedFrame, i)
		}

		end := i + code
		if end > len(data) {
			return nil, fmt.Errorf("%w: code %d at offset %d overruns %d bytes", ErrMalformedFrame, code, i, len(data))
		}

		for _, b := range data[i+1 : end] {
			if b == 0 {
				return nil, fmt.Errorf("%w: zero byte inside block at offset %d", ErrMalformedFrame, i)
			}
		}
		out = append(out, data[i+1:end]...)

		// A full block carries no implicit zero; the final block never does.
		if code != maxBlock+1 && end < len(data) {
			out = append(out, 0)
		}
		i = end
	}

	return out, nil
}
