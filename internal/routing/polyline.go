package routing

import (
	"errors"
	"math"
	"strings"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

const polylinePrecision = 1e5

var ErrInvalidPolyline = errors.New("invalid encoded polyline")

// Encode returns the encoded polyline (precision 1e5) for points given in
// lat/lng order.
func Encode(points []models.Location) string {
	var b strings.Builder
	var lastLat, lastLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * polylinePrecision))
		lng := int64(math.Round(p.Lng * polylinePrecision))
		encodeValue(&b, lat-lastLat)
		encodeValue(&b, lng-lastLng)
		lastLat, lastLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}

func Decode(encoded string) ([]models.Location, error) {
	var points []models.Location
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dLat, n, err := decodeValue(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n
		dLng, n, err := decodeValue(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n

		lat += dLat
		lng += dLng
		points = append(points, models.Location{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return points, nil
}

func decodeValue(s string) (int64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(s); i++ {
		c := int64(s[i]) - 63
		if c < 0 || c > 0x3f || shift > 60 {
			return 0, 0, ErrInvalidPolyline
		}
		result |= uint64(c&0x1f) << shift
		shift += 5
		if c < 0x20 {
			v := int64(result >> 1)
			if result&1 != 0 {
				v = ^v
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrInvalidPolyline
}
