// Package demux splits raw elementary streams into decodable units: one
// coded picture per unit for H.264 and H.265 Annex B streams, one temporal
// unit for AV1 low-overhead OBU streams, and one frame for IVF files.
//
// The central type is [Parser]. It reads the source through a fixed-size
// ring buffer, locates start codes or OBU boundaries without consuming
// bytes, and copies exactly one unit at a time into a reusable linear
// buffer:
//
//	p, err := demux.Open("clip.h264", demux.Options{})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	for {
//		u, err := p.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		submit(u.Data)
//	}
//
// Picture boundaries are found from NAL unit types and the first bit of the
// slice header only; slices are not otherwise parsed. [ParseSPS] and
// [ParseHEVCSPS] read the first sequence parameter set for [Parser.Info].
package demux
