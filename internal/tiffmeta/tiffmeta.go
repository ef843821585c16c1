// Package tiffmeta reads and rewrites the resolution tags of an encoded
// TIFF image. Encoders in the golang.org/x/image/tiff family always write a
// fixed 72 pixels-per-inch resolution, so the output of every compression
// pass is patched here to carry the DPI requested by the caller.
package tiffmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TIFF header magic for the two supported byte orders.
const (
	leHeader = "II\x2A\x00"
	beHeader = "MM\x00\x2A"

	ifdEntryLen = 12
)

// IFD tags and field types used below (TIFF 6.0 spec, p. 14-41).
const (
	tagXResolution    = 282
	tagYResolution    = 283
	tagResolutionUnit = 296

	dtShort    = 3
	dtRational = 5

	resolutionUnitInch = 2
)

// ErrNoResolutionTag is returned when the first IFD carries no
// XResolution/YResolution entries.
var ErrNoResolutionTag = errors.New("tiffmeta: no resolution tags in IFD")

// SetResolution patches the XResolution and YResolution rationals of the
// first IFD in data to dpi pixels per inch, in place. The ResolutionUnit
// entry, when present, is forced to inches so the rationals keep their
// meaning. data must hold a complete encoded TIFF image.
func SetResolution(data []byte, dpi int) error {
	if dpi <= 0 {
		return fmt.Errorf("tiffmeta: dpi must be positive, got %d", dpi)
	}

	order, entries, err := firstIFD(data)
	if err != nil {
		return err
	}

	patched := 0
	for _, e := range entries {
		tag := order.Uint16(data[e : e+2])
		fieldType := order.Uint16(data[e+2 : e+4])

		switch tag {
		case tagXResolution, tagYResolution:
			if fieldType != dtRational {
				return fmt.Errorf("tiffmeta: resolution tag %d has field type %d, want RATIONAL", tag, fieldType)
			}
			// A RATIONAL is 8 bytes, so the value field holds an offset
			// to the numerator/denominator pair.
			off := int(order.Uint32(data[e+8 : e+12]))
			if off+8 > len(data) {
				return fmt.Errorf("tiffmeta: resolution value offset %d out of bounds", off)
			}
			order.PutUint32(data[off:off+4], uint32(dpi))
			order.PutUint32(data[off+4:off+8], 1)
			patched++
		case tagResolutionUnit:
			if fieldType == dtShort {
				order.PutUint16(data[e+8:e+10], resolutionUnitInch)
			}
		}
	}

	if patched == 0 {
		return ErrNoResolutionTag
	}
	return nil
}

// Resolution returns the X and Y resolution of the first IFD in data,
// rounded to whole pixels per inch.
func Resolution(data []byte) (x, y int, err error) {
	order, entries, err := firstIFD(data)
	if err != nil {
		return 0, 0, err
	}

	found := false
	for _, e := range entries {
		tag := order.Uint16(data[e : e+2])
		if tag != tagXResolution && tag != tagYResolution {
			continue
		}
		if order.Uint16(data[e+2:e+4]) != dtRational {
			continue
		}
		off := int(order.Uint32(data[e+8 : e+12]))
		if off+8 > len(data) {
			return 0, 0, fmt.Errorf("tiffmeta: resolution value offset %d out of bounds", off)
		}
		num := order.Uint32(data[off : off+4])
		den := order.Uint32(data[off+4 : off+8])
		if den == 0 {
			continue
		}
		v := int((num + den/2) / den)
		if tag == tagXResolution {
			x = v
		} else {
			y = v
		}
		found = true
	}

	if !found {
		return 0, 0, ErrNoResolutionTag
	}
	return x, y, nil
}

// firstIFD validates the TIFF header of data and returns its byte order
// together with the offsets of each entry in the first IFD.
func firstIFD(data []byte) (binary.ByteOrder, []int, error) {
	if len(data) < 8 {
		return nil, nil, errors.New("tiffmeta: data too short for TIFF header")
	}

	var order binary.ByteOrder
	switch string(data[0:4]) {
	case leHeader:
		order = binary.LittleEndian
	case beHeader:
		order = binary.BigEndian
	default:
		return nil, nil, errors.New("tiffmeta: invalid TIFF header")
	}

	ifdOffset := int(order.Uint32(data[4:8]))
	if ifdOffset+2 > len(data) {
		return nil, nil, fmt.Errorf("tiffmeta: IFD offset %d out of bounds", ifdOffset)
	}

	count := int(order.Uint16(data[ifdOffset : ifdOffset+2]))
	entriesEnd := ifdOffset + 2 + count*ifdEntryLen
	if entriesEnd > len(data) {
		return nil, nil, fmt.Errorf("tiffmeta: IFD with %d entries exceeds data bounds", count)
	}

	entries := make([]int, 0, count)
	for i := 0; i < count; i++ {
		entries = append(entries, ifdOffset+2+i*ifdEntryLen)
	}
	return order, entries, nil
}
