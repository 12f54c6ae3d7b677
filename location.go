package iotcore

// LocationFlag marks which optional Location fields are populated, per §3.9.
type LocationFlag uint8

const (
	LocAccuracy LocationFlag = 1 << iota
	LocAltitude
	LocAltitudeAccuracy
	LocHeading
	LocSpeed
	LocSource
	LocTag
)

// Location is a geo sample with optional fields, §3.9. Latitude is bounded
// to [-90,90], longitude to [-180,180], heading to [0,360).
type Location struct {
	Latitude  float64
	Longitude float64

	Accuracy         float64
	Altitude         float64
	AltitudeAccuracy float64
	Heading          float64
	Speed            float64
	Source           string
	Tag              string

	flags LocationFlag
}

// NewLocation validates and constructs a Location from its mandatory fields.
func NewLocation(latitude, longitude float64) (Location, error) {
	if latitude < -90 || latitude > 90 {
		return Location{}, withMessage(OutOfRange, "latitude %g out of [-90,90]", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return Location{}, withMessage(OutOfRange, "longitude %g out of [-180,180]", longitude)
	}
	return Location{Latitude: latitude, Longitude: longitude}, nil
}

func (l *Location) SetAccuracy(v float64) { l.Accuracy = v; l.flags |= LocAccuracy }
func (l *Location) SetAltitude(v float64) { l.Altitude = v; l.flags |= LocAltitude }
func (l *Location) SetAltitudeAccuracy(v float64) {
	l.AltitudeAccuracy = v
	l.flags |= LocAltitudeAccuracy
}

// SetHeading sets the heading field; heading must lie in [0,360).
func (l *Location) SetHeading(v float64) error {
	if v < 0 || v >= 360 {
		return withMessage(OutOfRange, "heading %g out of [0,360)", v)
	}
	l.Heading = v
	l.flags |= LocHeading
	return nil
}

func (l *Location) SetSpeed(v float64) { l.Speed = v; l.flags |= LocSpeed }

func (l *Location) SetSource(v string) { l.Source = v; l.flags |= LocSource }

// SetTag sets the location tag, bounded by NameMax per §3.9.
func (l *Location) SetTag(v string) error {
	if len(v) > NameMax {
		return withMessage(OutOfRange, "location tag exceeds %d bytes", NameMax)
	}
	l.Tag = v
	l.flags |= LocTag
	return nil
}

func (l Location) HasAccuracy() bool         { return l.flags&LocAccuracy != 0 }
func (l Location) HasAltitude() bool         { return l.flags&LocAltitude != 0 }
func (l Location) HasAltitudeAccuracy() bool { return l.flags&LocAltitudeAccuracy != 0 }
func (l Location) HasHeading() bool          { return l.flags&LocHeading != 0 }
func (l Location) HasSpeed() bool            { return l.flags&LocSpeed != 0 }
func (l Location) HasSource() bool           { return l.flags&LocSource != 0 }
func (l Location) HasTag() bool              { return l.flags&LocTag != 0 }

// clone produces an independent copy. Since Location holds only value
// fields (strings are immutable in Go, so sharing the backing array is
// safe), a plain struct copy is already a deep copy in the sense that
// matters here: the copy must be independently mutable without aliasing
// the source's buffers — reassigning Tag/Source on the clone never
// mutates the original's string header.
func (l Location) clone() Location { return l }
