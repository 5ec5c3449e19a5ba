package synth

// CaptionSEI builds an H.264 SEI NAL unit (header byte included, no start
// code) carrying ATSC A/53 cc_data with one CEA-608 field-1 pair per entry.
// Parity is added to every data byte.
func CaptionSEI(pairs ...[2]byte) []byte {
	n := min(len(pairs), 31)
	payload := []byte{
		0xB5,       // itu_t_t35_country_code (United States)
		0x00, 0x31, // itu_t_t35_provider_code (ATSC)
		'G', 'A', '9', '4',
		0x03,           // user_data_type_code (cc_data)
		0x40 | byte(n), // process_cc_data_flag, cc_count
		0xFF,           // em_data
	}
	for _, p := range pairs[:n] {
		payload = append(payload, 0xFC, oddParity(p[0]), oddParity(p[1]))
	}
	payload = append(payload, 0xFF)

	msg := seiMessage(4, payload)
	msg = append(msg, 0x80) // rbsp_trailing_bits
	return append([]byte{0x06}, addEmulationPrevention(msg)...)
}

func seiMessage(payloadType int, payload []byte) []byte {
	var out []byte
	for pt := payloadType; ; pt -= 255 {
		if pt < 255 {
			out = append(out, byte(pt))
			break
		}
		out = append(out, 0xFF)
	}
	for ps := len(payload); ; ps -= 255 {
		if ps < 255 {
			out = append(out, byte(ps))
			break
		}
		out = append(out, 0xFF)
	}
	return append(out, payload...)
}

// addEmulationPrevention inserts 0x03 before any byte <= 0x03 that follows
// two zero bytes.
func addEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
